package model

import "time"

type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
)

func (r TurnRole) Valid() bool {
	return r == TurnRoleUser || r == TurnRoleAssistant
}

// TranscriptTurn is immutable once written. TurnOrder is contiguous from 1 within
// (SessionID, AttemptNumber).
// swagger:model TranscriptTurn
type TranscriptTurn struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID     string    `gorm:"type:varchar(36);not null;uniqueIndex:uniq_turn_order,priority:1" json:"sessionId"`
	AttemptNumber int       `gorm:"not null;uniqueIndex:uniq_turn_order,priority:2" json:"attemptNumber"`
	TurnOrder     int       `gorm:"not null;uniqueIndex:uniq_turn_order,priority:3" json:"turnOrder"`
	Role          TurnRole  `gorm:"size:20;not null" json:"role"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (TranscriptTurn) TableName() string {
	return "transcript_turns"
}
