package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/internal/util"
	"counselor_training_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AssignmentService struct {
	AssignmentRepo *repository.AssignmentRepository
	ScenarioRepo   *repository.ScenarioRepository
	DB             *gorm.DB
	now            func() time.Time
}

func NewAssignmentService(assignmentRepo *repository.AssignmentRepository, scenarioRepo *repository.ScenarioRepository, db *gorm.DB) *AssignmentService {
	return &AssignmentService{
		AssignmentRepo: assignmentRepo,
		ScenarioRepo:   scenarioRepo,
		DB:             db,
		now:            time.Now,
	}
}

type CreateAssignmentRequest struct {
	ScenarioID      string     `json:"scenarioId" binding:"required"`
	CounselorID     uint       `json:"counselorId" binding:"required"`
	DueDate         *time.Time `json:"dueDate"`
	SupervisorNotes *string    `json:"supervisorNotes"`
}

// UpdateAssignmentRequest: counselors may only send Status for their own assignment.
type UpdateAssignmentRequest struct {
	Status          *model.AssignmentStatus `json:"status"`
	DueDate         *time.Time              `json:"dueDate"`
	SupervisorNotes *string                 `json:"supervisorNotes"`
}

func (r UpdateAssignmentRequest) touchesSupervisorFields() bool {
	return r.DueDate != nil || r.SupervisorNotes != nil
}

func (s *AssignmentService) Create(ctx context.Context, actor model.Actor, req CreateAssignmentRequest) (*model.Assignment, error) {
	if !actor.IsSupervisor() {
		return nil, fmt.Errorf("%w: only supervisors assign scenarios", util.ErrForbidden)
	}
	if _, err := s.ScenarioRepo.FindByID(ctx, req.ScenarioID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: scenario %s", util.ErrNotFound, req.ScenarioID)
		}
		return nil, err
	}

	a := &model.Assignment{
		ScenarioID:      req.ScenarioID,
		CounselorID:     req.CounselorID,
		AssignedBy:      actor.ID,
		Status:          model.AssignmentPending,
		DueDate:         req.DueDate,
		SupervisorNotes: req.SupervisorNotes,
	}
	if err := s.AssignmentRepo.Create(ctx, a); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: counselor %d already has an open assignment for scenario %s",
				util.ErrConflict, req.CounselorID, req.ScenarioID)
		}
		return nil, err
	}

	logger.Log.Info("assignment created",
		zap.String("assignment_id", a.ID),
		zap.Uint("counselor_id", a.CounselorID),
		zap.String("scenario_id", a.ScenarioID))
	return a, nil
}

func (s *AssignmentService) Get(ctx context.Context, actor model.Actor, id string) (*model.Assignment, error) {
	a, err := s.AssignmentRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: assignment %s", util.ErrNotFound, id)
		}
		return nil, err
	}
	if !model.CanAccessResource(actor, a.CounselorID) {
		return nil, fmt.Errorf("%w: assignment %s", util.ErrForbidden, id)
	}
	return a, nil
}

// List returns the caller's own assignments; supervisors may see anyone's.
func (s *AssignmentService) List(ctx context.Context, actor model.Actor, f repository.AssignmentFilter) ([]model.Assignment, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", util.ErrInvalidInput, f.Status)
	}
	if !actor.IsSupervisor() {
		own := actor.ID
		f.CounselorID = &own
	}
	return s.AssignmentRepo.List(ctx, f)
}

func (s *AssignmentService) Update(ctx context.Context, actor model.Actor, id string, req UpdateAssignmentRequest) (*model.Assignment, error) {
	if req.Status == nil && !req.touchesSupervisorFields() {
		return nil, fmt.Errorf("%w: nothing to update", util.ErrInvalidInput)
	}
	// a request to complete is illegal whoever sends it and whatever else it carries
	if req.Status != nil && *req.Status == model.AssignmentCompleted {
		return nil, fmt.Errorf("%w: assignments are completed by evaluating their session", util.ErrInvalidTransition)
	}

	var updated *model.Assignment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.AssignmentRepo.WithTx(tx)
		a, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: assignment %s", util.ErrNotFound, id)
			}
			return err
		}

		if req.touchesSupervisorFields() && !actor.IsSupervisor() {
			return fmt.Errorf("%w: only supervisors can change due date or notes", util.ErrForbidden)
		}

		expected := a.Status
		changed := false
		if req.Status != nil {
			changed, err = TransitionAssignment(a, *req.Status, actor, s.now())
			if err != nil {
				return err
			}
		}
		if req.DueDate != nil {
			a.DueDate = req.DueDate
			changed = true
		}
		if req.SupervisorNotes != nil {
			a.SupervisorNotes = req.SupervisorNotes
			changed = true
		}

		updated = a
		if !changed {
			return nil
		}
		if err := repo.Save(ctx, a, expected); err != nil {
			if errors.Is(err, repository.ErrStaleWrite) {
				return fmt.Errorf("%w: assignment %s changed concurrently", util.ErrConflict, id)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("assignment updated",
		zap.String("assignment_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Uint("actor_id", actor.ID))
	return updated, nil
}
