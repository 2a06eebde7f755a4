package model

import (
	"fmt"
	"time"
)

type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// assignmentTransitions is the complete set of legal status edges.
var assignmentTransitions = map[AssignmentStatus][]AssignmentStatus{
	AssignmentPending:    {AssignmentInProgress},
	AssignmentInProgress: {AssignmentPending, AssignmentCompleted},
	AssignmentCompleted:  {},
}

func (s AssignmentStatus) Valid() bool {
	_, ok := assignmentTransitions[s]
	return ok
}

func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	for _, allowed := range assignmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// swagger:model Assignment
type Assignment struct {
	UUIDBase
	ScenarioID      string           `gorm:"type:varchar(36);not null;index" json:"scenarioId"`
	CounselorID     uint             `gorm:"not null;index" json:"counselorId"`
	AssignedBy      uint             `gorm:"not null" json:"assignedBy"`
	Status          AssignmentStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	DueDate         *time.Time       `json:"dueDate,omitempty"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	SupervisorNotes *string          `gorm:"type:text" json:"supervisorNotes,omitempty"`

	// ActiveKey is "<counselorId>:<scenarioId>" while the assignment is open and NULL once
	// completed, so the unique index admits one open assignment per pair.
	ActiveKey *string `gorm:"size:100;uniqueIndex:uniq_assignment_active" json:"-"`
}

func (Assignment) TableName() string {
	return "assignments"
}

func AssignmentActiveKey(counselorID uint, scenarioID string) string {
	return fmt.Sprintf("%d:%s", counselorID, scenarioID)
}

// SyncActiveKey must be called after every status change.
func (a *Assignment) SyncActiveKey() {
	if a.Status == AssignmentCompleted {
		a.ActiveKey = nil
		return
	}
	key := AssignmentActiveKey(a.CounselorID, a.ScenarioID)
	a.ActiveKey = &key
}
