package service

import (
	"fmt"
	"time"

	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/util"
)

// TransitionAssignment applies a client-requested status change to a. It reports whether
// anything changed; requesting the current status is a no-op.
//
// Completion is never reachable from here: only the evaluation flow completes an
// assignment, so every completed assignment has an Evaluation.
func TransitionAssignment(a *model.Assignment, requested model.AssignmentStatus, actor model.Actor, now time.Time) (bool, error) {
	if !requested.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", util.ErrInvalidTransition, requested)
	}
	if requested == model.AssignmentCompleted {
		return false, fmt.Errorf("%w: assignments are completed by evaluating their session", util.ErrInvalidTransition)
	}
	if !model.CanAccessResource(actor, a.CounselorID) {
		return false, fmt.Errorf("%w: assignment %s belongs to another counselor", util.ErrForbidden, a.ID)
	}
	if requested == a.Status {
		return false, nil
	}
	if !a.Status.CanTransitionTo(requested) {
		return false, fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, a.Status, requested)
	}
	if requested == model.AssignmentPending && !actor.IsSupervisor() {
		return false, fmt.Errorf("%w: only a supervisor can reset an assignment", util.ErrForbidden)
	}
	applyAssignmentStatus(a, requested, now)
	return true, nil
}

func applyAssignmentStatus(a *model.Assignment, next model.AssignmentStatus, now time.Time) {
	switch next {
	case model.AssignmentInProgress:
		a.StartedAt = &now
	case model.AssignmentPending:
		a.StartedAt = nil
	case model.AssignmentCompleted:
		a.CompletedAt = &now
	}
	a.Status = next
	a.SyncActiveKey()
}

// advanceAssignment moves a forward to target along legal edges only; it is the path
// used by session start and evaluation. pending -> completed walks through in_progress.
func advanceAssignment(a *model.Assignment, target model.AssignmentStatus, now time.Time) error {
	for a.Status != target {
		var next model.AssignmentStatus
		switch {
		case a.Status == model.AssignmentPending:
			next = model.AssignmentInProgress
		case a.Status == model.AssignmentInProgress && target == model.AssignmentCompleted:
			next = model.AssignmentCompleted
		default:
			return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, a.Status, target)
		}
		if !a.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, a.Status, next)
		}
		applyAssignmentStatus(a, next, now)
	}
	return nil
}
