package model

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one run of an assignment, or a free-practice run when AssignmentID is nil.
// swagger:model Session
type Session struct {
	UUIDBase
	AssignmentID   *string       `gorm:"type:varchar(36);uniqueIndex:uniq_session_assignment" json:"assignmentId,omitempty"`
	UserID         *uint         `gorm:"index" json:"userId,omitempty"`
	ScenarioID     *string       `gorm:"type:varchar(36);index" json:"scenarioId,omitempty"`
	Status         SessionStatus `gorm:"size:20;not null;default:'active'" json:"status"`
	CurrentAttempt int           `gorm:"not null;default:1" json:"currentAttempt"`
	StartedAt      time.Time     `json:"startedAt"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}

func (s *Session) IsPractice() bool {
	return s.AssignmentID == nil
}

// OwnerID resolves the owning user: the assignment's counselor, or UserID for practice runs.
// assignment may be nil for practice sessions.
func (s *Session) OwnerID(assignment *Assignment) uint {
	if assignment != nil {
		return assignment.CounselorID
	}
	if s.UserID != nil {
		return *s.UserID
	}
	return 0
}
