package repository

import (
	"context"
	"time"

	"counselor_training_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) WithTx(tx *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: tx}
}

func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	if err := r.DB.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByIDForUpdate locks the session row; every transcript append for the session
// queues behind it.
func (r *SessionRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) FindByAssignmentID(ctx context.Context, assignmentID string) (*model.Session, error) {
	var s model.Session
	if err := r.DB.WithContext(ctx).First(&s, "assignment_id = ?", assignmentID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// StartNextAttempt bumps current_attempt and reopens the session.
func (r *SessionRepository) StartNextAttempt(ctx context.Context, id string, fromAttempt int) error {
	res := r.DB.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND current_attempt = ?", id, fromAttempt).
		Updates(map[string]interface{}{
			"current_attempt": gorm.Expr("current_attempt + 1"),
			"status":          model.SessionActive,
			"ended_at":        nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *SessionRepository) Complete(ctx context.Context, id string, endedAt time.Time) error {
	res := r.DB.WithContext(ctx).Model(&model.Session{}).
		Where("id = ? AND status = ?", id, model.SessionActive).
		Updates(map[string]interface{}{
			"status":   model.SessionCompleted,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}
