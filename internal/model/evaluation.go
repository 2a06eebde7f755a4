package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Evaluation is written once per session (practice) or assignment and never updated.
// Exactly one of SessionID and AssignmentID is set: AssignmentID for assignment runs,
// SessionID for practice runs.
// swagger:model Evaluation
type Evaluation struct {
	ID             string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID      *string                     `gorm:"type:varchar(36);uniqueIndex:uniq_evaluation_session" json:"sessionId,omitempty"`
	AssignmentID   *string                     `gorm:"type:varchar(36);uniqueIndex:uniq_evaluation_assignment" json:"assignmentId,omitempty"`
	AttemptNumber  int                         `gorm:"not null" json:"attemptNumber"`
	OverallScore   float64                     `gorm:"not null" json:"overallScore"`
	FeedbackJSON   datatypes.JSON              `json:"feedback"`
	Strengths      datatypes.JSONSlice[string] `json:"strengths"`
	AreasToImprove datatypes.JSONSlice[string] `json:"areasToImprove"`
	CreatedAt      time.Time                   `json:"createdAt"`

	Flags []SessionFlag `gorm:"-" json:"flags,omitempty"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}

func (e *Evaluation) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = GenerateUUID()
	}
	return nil
}

type FlagSeverity string

const (
	FlagInfo     FlagSeverity = "info"
	FlagWarning  FlagSeverity = "warning"
	FlagCritical FlagSeverity = "critical"
)

// NormalizeSeverity maps anything unrecognised to info.
func NormalizeSeverity(s string) FlagSeverity {
	switch sev := FlagSeverity(strings.ToLower(strings.TrimSpace(s))); sev {
	case FlagWarning, FlagCritical:
		return sev
	default:
		return FlagInfo
	}
}

const (
	FlagSourceEvaluation = "evaluation"
	FlagTypeUnspecified  = "unspecified"

	// MaxFlagTypeLen matches the width of session_flags.type.
	MaxFlagTypeLen = 50
)

// NormalizeFlagType fits a scorer-supplied flag type into the column: blank becomes
// "unspecified", anything longer than MaxFlagTypeLen characters is cut.
func NormalizeFlagType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return FlagTypeUnspecified
	}
	if utf8.RuneCountInString(t) <= MaxFlagTypeLen {
		return t
	}
	return strings.TrimSpace(string([]rune(t)[:MaxFlagTypeLen]))
}

// swagger:model SessionFlag
type SessionFlag struct {
	ID           uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string       `gorm:"type:varchar(36);not null;index" json:"sessionId"`
	EvaluationID string       `gorm:"type:varchar(36);not null;index" json:"evaluationId"`
	Type         string       `gorm:"size:50;not null" json:"type"`
	Severity     FlagSeverity `gorm:"size:20;not null" json:"severity"`
	Details      string       `gorm:"type:text" json:"details"`
	Source       string       `gorm:"size:30;not null" json:"source"`
	CreatedAt    time.Time    `json:"createdAt"`
}

func (SessionFlag) TableName() string {
	return "session_flags"
}
