package repository

import (
	"context"
	"errors"

	"counselor_training_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleWrite is returned when a compare-and-set update matched no row because a
// concurrent writer changed it first.
var ErrStaleWrite = errors.New("row changed by a concurrent writer")

type AssignmentRepository struct {
	DB *gorm.DB
}

func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: db}
}

func (r *AssignmentRepository) WithTx(tx *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{DB: tx}
}

func (r *AssignmentRepository) Create(ctx context.Context, a *model.Assignment) error {
	a.SyncActiveKey()
	return r.DB.WithContext(ctx).Create(a).Error
}

func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*model.Assignment, error) {
	var a model.Assignment
	if err := r.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (r *AssignmentRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Assignment, error) {
	var a model.Assignment
	err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&a, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type AssignmentFilter struct {
	CounselorID *uint
	Status      model.AssignmentStatus
	Offset      int
	Limit       int
}

func (r *AssignmentRepository) List(ctx context.Context, f AssignmentFilter) ([]model.Assignment, int64, error) {
	var (
		items []model.Assignment
		total int64
	)
	query := r.DB.WithContext(ctx).Model(&model.Assignment{})
	if f.CounselorID != nil {
		query = query.Where("counselor_id = ?", *f.CounselorID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	err := query.Order("created_at DESC").Offset(f.Offset).Limit(f.Limit).Find(&items).Error
	return items, total, err
}

// Save writes status, timestamps and supervisor fields, but only if the stored status
// is still expected.
func (r *AssignmentRepository) Save(ctx context.Context, a *model.Assignment, expected model.AssignmentStatus) error {
	a.SyncActiveKey()
	res := r.DB.WithContext(ctx).Model(&model.Assignment{}).
		Where("id = ? AND status = ?", a.ID, expected).
		Updates(map[string]interface{}{
			"status":           a.Status,
			"started_at":       a.StartedAt,
			"completed_at":     a.CompletedAt,
			"due_date":         a.DueDate,
			"supervisor_notes": a.SupervisorNotes,
			"active_key":       a.ActiveKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}
