package repository

import (
	"context"

	"counselor_training_backend/internal/model"

	"gorm.io/gorm"
)

type EvaluationRepository struct {
	DB *gorm.DB
}

func NewEvaluationRepository(db *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{DB: db}
}

func (r *EvaluationRepository) WithTx(tx *gorm.DB) *EvaluationRepository {
	return &EvaluationRepository{DB: tx}
}

func (r *EvaluationRepository) Create(ctx context.Context, e *model.Evaluation) error {
	return r.DB.WithContext(ctx).Create(e).Error
}

// FindForSession looks the evaluation up by whichever key the session is evaluated on:
// the assignment for assignment runs, the session itself for practice runs.
func (r *EvaluationRepository) FindForSession(ctx context.Context, s *model.Session) (*model.Evaluation, error) {
	var e model.Evaluation
	query := r.DB.WithContext(ctx)
	if s.IsPractice() {
		query = query.Where("session_id = ?", s.ID)
	} else {
		query = query.Where("assignment_id = ?", *s.AssignmentID)
	}
	if err := query.First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EvaluationRepository) CreateFlags(ctx context.Context, flags []model.SessionFlag) error {
	if len(flags) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Create(&flags).Error
}

func (r *EvaluationRepository) ListFlags(ctx context.Context, evaluationID string) ([]model.SessionFlag, error) {
	var flags []model.SessionFlag
	err := r.DB.WithContext(ctx).
		Where("evaluation_id = ?", evaluationID).
		Order("id ASC").
		Find(&flags).Error
	return flags, err
}
