package events

import (
	"context"
	"time"
)

const (
	SessionCreated    = "session.created"
	SessionRetried    = "session.retried"
	EvaluationCreated = "evaluation.created"
)

// Event describes a committed lifecycle change.
type Event struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"sessionId"`
	AssignmentID string    `json:"assignmentId,omitempty"`
	EvaluationID string    `json:"evaluationId,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type noopPublisher struct{}

func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

func (noopPublisher) Close() error { return nil }
