package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/internal/util"
	"counselor_training_backend/pkg/events"
	"counselor_training_backend/pkg/logger"
	"counselor_training_backend/pkg/monitoring"
	"counselor_training_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EvaluationOutcome string

const (
	OutcomeCreated       EvaluationOutcome = "created"
	OutcomeAlreadyExists EvaluationOutcome = "already_exists"
)

// EvaluationResult tells the caller whether its request wrote the evaluation or found the
// one a concurrent request wrote first.
type EvaluationResult struct {
	Evaluation *model.Evaluation `json:"evaluation"`
	Outcome    EvaluationOutcome `json:"outcome"`
}

type EvaluationService struct {
	DB             *gorm.DB
	SessionRepo    *repository.SessionRepository
	TranscriptRepo *repository.TranscriptRepository
	AssignmentRepo *repository.AssignmentRepository
	ScenarioRepo   *repository.ScenarioRepository
	EvaluationRepo *repository.EvaluationRepository
	Scorer         Scorer
	Publisher      events.Publisher

	minTurns       int
	scoringTimeout atomic.Int64
	now            func() time.Time
}

func NewEvaluationService(
	db *gorm.DB,
	sessionRepo *repository.SessionRepository,
	transcriptRepo *repository.TranscriptRepository,
	assignmentRepo *repository.AssignmentRepository,
	scenarioRepo *repository.ScenarioRepository,
	evaluationRepo *repository.EvaluationRepository,
	scorer Scorer,
	publisher events.Publisher,
	sessionCfg config.SessionConfig,
	aiCfg config.AIConfig,
) *EvaluationService {
	s := &EvaluationService{
		DB:             db,
		SessionRepo:    sessionRepo,
		TranscriptRepo: transcriptRepo,
		AssignmentRepo: assignmentRepo,
		ScenarioRepo:   scenarioRepo,
		EvaluationRepo: evaluationRepo,
		Scorer:         scorer,
		Publisher:      publisher,
		minTurns:       max(sessionCfg.MinTurnsToEvaluate, config.MinEvaluableTurns),
		now:            time.Now,
	}
	s.SetScoringTimeout(aiCfg.ScoringTimeout())
	return s
}

func (s *EvaluationService) SetScoringTimeout(d time.Duration) {
	if d <= 0 {
		d = 60 * time.Second
	}
	s.scoringTimeout.Store(int64(d))
}

var errAttemptChanged = errors.New("attempt changed while scoring")

// Evaluate scores the session's current attempt and records the result. Scoring runs
// outside any transaction; the evaluation row, the session and assignment completion
// and the flags then commit together. When a concurrent request commits first, the
// unique index on the evaluation rejects this insert and the stored one is returned.
func (s *EvaluationService) Evaluate(ctx context.Context, actor model.Actor, sessionID string) (res *EvaluationResult, err error) {
	ctx, span := tracing.Start(ctx, "EvaluationService.Evaluate", attribute.String("session.id", sessionID))
	defer func() { tracing.Finish(span, err) }()

	res, err = s.evaluate(ctx, actor, sessionID)
	switch {
	case err == nil:
		monitoring.EvaluationsTotal.WithLabelValues(string(res.Outcome)).Inc()
	default:
		kind, _ := util.ErrorKind(err)
		monitoring.EvaluationsTotal.WithLabelValues(kind).Inc()
	}
	return res, err
}

func (s *EvaluationService) evaluate(ctx context.Context, actor model.Actor, sessionID string) (*EvaluationResult, error) {
	sess, _, err := loadSessionForActor(ctx, s.SessionRepo, s.AssignmentRepo, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.EvaluationRepo.FindForSession(ctx, sess); err == nil {
		return nil, fmt.Errorf("%w: session %s has already been evaluated", util.ErrConflict, sessionID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if sess.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", util.ErrConflict, sessionID, sess.Status)
	}

	attempt := sess.CurrentAttempt
	turns, err := s.TranscriptRepo.ListByAttempt(ctx, sessionID, attempt)
	if err != nil {
		return nil, err
	}
	if len(turns) < s.minTurns {
		return nil, fmt.Errorf("%w: attempt %d has %d turns, need at least %d",
			util.ErrTooEarly, attempt, len(turns), s.minTurns)
	}

	scenarioID := ""
	if sess.ScenarioID != nil {
		scenarioID = *sess.ScenarioID
	}
	scenario, err := s.ScenarioRepo.FindByID(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: scenario %s", util.ErrNotFound, scenarioID)
		}
		return nil, err
	}

	score, err := s.score(ctx, scenario, turns)
	if err != nil {
		logger.Log.Warn("scoring failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: scoring failed: %v", util.ErrUpstream, err)
	}

	// completion time is taken once scoring has returned
	now := s.now()
	eval := &model.Evaluation{
		AttemptNumber:  attempt,
		OverallScore:   *score.OverallScore,
		FeedbackJSON:   datatypes.JSON(score.Feedback),
		Strengths:      datatypes.JSONSlice[string](score.Strengths),
		AreasToImprove: datatypes.JSONSlice[string](score.AreasToImprove),
		CreatedAt:      now,
	}
	if sess.IsPractice() {
		eval.SessionID = &sess.ID
	} else {
		eval.AssignmentID = sess.AssignmentID
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.commit(ctx, tx, sessionID, attempt, eval, score.Flags, now)
	})
	switch {
	case err == nil:
	case repository.IsUniqueViolation(err):
		return s.existing(ctx, sess)
	case errors.Is(err, errAttemptChanged):
		return nil, fmt.Errorf("%w: session %s was restarted while scoring", util.ErrConflict, sessionID)
	case errors.Is(err, repository.ErrStaleWrite):
		return nil, fmt.Errorf("%w: session %s changed concurrently", util.ErrConflict, sessionID)
	default:
		return nil, err
	}

	logger.Log.Info("session evaluated",
		zap.String("session_id", sessionID),
		zap.String("evaluation_id", eval.ID),
		zap.Int("attempt", attempt),
		zap.Float64("score", eval.OverallScore),
		zap.Int("flags", len(eval.Flags)))

	event := events.Event{
		Type:         events.EvaluationCreated,
		SessionID:    sessionID,
		EvaluationID: eval.ID,
		Attempt:      attempt,
		OccurredAt:   now,
	}
	if sess.AssignmentID != nil {
		event.AssignmentID = *sess.AssignmentID
	}
	publish(ctx, s.Publisher, event)
	return &EvaluationResult{Evaluation: eval, Outcome: OutcomeCreated}, nil
}

func (s *EvaluationService) score(ctx context.Context, scenario *model.Scenario, turns []model.TranscriptTurn) (*ScoreResult, error) {
	scoreCtx, cancel := context.WithTimeout(ctx, time.Duration(s.scoringTimeout.Load()))
	defer cancel()
	scoreCtx, span := tracing.Start(scoreCtx, "llm.score", attribute.Int("transcript.turns", len(turns)))

	start := time.Now()
	result, err := s.Scorer.Score(scoreCtx, scenario, turns)
	monitoring.ScoringDuration.WithLabelValues("score").Observe(time.Since(start).Seconds())
	tracing.Finish(span, err)
	if err != nil {
		return nil, err
	}
	if result == nil || result.OverallScore == nil {
		return nil, errors.New("scorer returned no overall score")
	}
	return result, nil
}

// commit holds the session row lock (and then the assignment's) for the writes. The
// evaluation insert comes first so a lost race surfaces as a unique violation.
func (s *EvaluationService) commit(ctx context.Context, tx *gorm.DB, sessionID string, attempt int, eval *model.Evaluation, scored []ScoreFlag, now time.Time) error {
	sessions := s.SessionRepo.WithTx(tx)
	sess, err := sessions.FindByIDForUpdate(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.CurrentAttempt != attempt {
		return errAttemptChanged
	}

	evaluations := s.EvaluationRepo.WithTx(tx)
	if err := evaluations.Create(ctx, eval); err != nil {
		return err
	}
	if err := sessions.Complete(ctx, sessionID, now); err != nil {
		return err
	}

	if sess.AssignmentID != nil {
		assignments := s.AssignmentRepo.WithTx(tx)
		a, err := assignments.FindByIDForUpdate(ctx, *sess.AssignmentID)
		if err != nil {
			return err
		}
		expected := a.Status
		if err := advanceAssignment(a, model.AssignmentCompleted, now); err != nil {
			return fmt.Errorf("%w: assignment %s is %s", util.ErrConflict, a.ID, expected)
		}
		if err := assignments.Save(ctx, a, expected); err != nil {
			return err
		}
	}

	flags := make([]model.SessionFlag, 0, len(scored))
	for _, f := range scored {
		flags = append(flags, model.SessionFlag{
			SessionID:    sessionID,
			EvaluationID: eval.ID,
			Type:         model.NormalizeFlagType(f.Type),
			Severity:     model.NormalizeSeverity(f.Severity),
			Details:      f.Details,
			Source:       model.FlagSourceEvaluation,
			CreatedAt:    now,
		})
	}
	if err := evaluations.CreateFlags(ctx, flags); err != nil {
		return err
	}
	eval.Flags = flags
	return nil
}

// existing returns the evaluation a concurrent request committed first.
func (s *EvaluationService) existing(ctx context.Context, sess *model.Session) (*EvaluationResult, error) {
	eval, err := s.EvaluationRepo.FindForSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("re-read evaluation for session %s: %w", sess.ID, err)
	}
	flags, err := s.EvaluationRepo.ListFlags(ctx, eval.ID)
	if err != nil {
		return nil, err
	}
	eval.Flags = flags

	logger.Log.Info("evaluation already recorded by a concurrent request",
		zap.String("session_id", sess.ID),
		zap.String("evaluation_id", eval.ID))
	return &EvaluationResult{Evaluation: eval, Outcome: OutcomeAlreadyExists}, nil
}

// GetEvaluation returns the session's evaluation with its flags.
func (s *EvaluationService) GetEvaluation(ctx context.Context, actor model.Actor, sessionID string) (*model.Evaluation, error) {
	sess, _, err := loadSessionForActor(ctx, s.SessionRepo, s.AssignmentRepo, actor, sessionID)
	if err != nil {
		return nil, err
	}
	eval, err := s.EvaluationRepo.FindForSession(ctx, sess)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s has not been evaluated", util.ErrNotFound, sessionID)
		}
		return nil, err
	}
	flags, err := s.EvaluationRepo.ListFlags(ctx, eval.ID)
	if err != nil {
		return nil, err
	}
	eval.Flags = flags
	return eval, nil
}
