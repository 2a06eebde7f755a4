package repository

import (
	"context"

	"counselor_training_backend/internal/model"

	"gorm.io/gorm"
)

type TranscriptRepository struct {
	DB *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{DB: db}
}

func (r *TranscriptRepository) WithTx(tx *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{DB: tx}
}

// MaxTurnOrder returns the highest turn_order for the attempt, or 0 when it has no turns.
func (r *TranscriptRepository) MaxTurnOrder(ctx context.Context, sessionID string, attempt int) (int, error) {
	var max int
	err := r.DB.WithContext(ctx).Model(&model.TranscriptTurn{}).
		Select("COALESCE(MAX(turn_order), 0)").
		Where("session_id = ? AND attempt_number = ?", sessionID, attempt).
		Scan(&max).Error
	return max, err
}

func (r *TranscriptRepository) Create(ctx context.Context, turn *model.TranscriptTurn) error {
	return r.DB.WithContext(ctx).Create(turn).Error
}

func (r *TranscriptRepository) ListByAttempt(ctx context.Context, sessionID string, attempt int) ([]model.TranscriptTurn, error) {
	var turns []model.TranscriptTurn
	err := r.DB.WithContext(ctx).
		Where("session_id = ? AND attempt_number = ?", sessionID, attempt).
		Order("turn_order ASC").
		Find(&turns).Error
	return turns, err
}
