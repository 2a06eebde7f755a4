package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
	"gorm.io/gorm"
)

type SessionService struct {
	DB             *gorm.DB
	SessionRepo    *repository.SessionRepository
	TranscriptRepo *repository.TranscriptRepository
	AssignmentRepo *repository.AssignmentRepository
	ScenarioRepo   *repository.ScenarioRepository
	EvaluationRepo *repository.EvaluationRepository
	Generator      Generator
	Publisher      events.Publisher

	greeting      string
	appendRetries int
	replyTimeout  atomic.Int64
	now           func() time.Time
}

func NewSessionService(
	db *gorm.DB,
	sessionRepo *repository.SessionRepository,
	transcriptRepo *repository.TranscriptRepository,
	assignmentRepo *repository.AssignmentRepository,
	scenarioRepo *repository.ScenarioRepository,
	evaluationRepo *repository.EvaluationRepository,
	generator Generator,
	publisher events.Publisher,
	sessionCfg config.SessionConfig,
	aiCfg config.AIConfig,
) *SessionService {
	s := &SessionService{
		DB:             db,
		SessionRepo:    sessionRepo,
		TranscriptRepo: transcriptRepo,
		AssignmentRepo: assignmentRepo,
		ScenarioRepo:   scenarioRepo,
		EvaluationRepo: evaluationRepo,
		Generator:      generator,
		Publisher:      publisher,
		greeting:       sessionCfg.Greeting,
		appendRetries:  sessionCfg.AppendRetries,
		now:            time.Now,
	}
	s.SetReplyTimeout(aiCfg.ReplyTimeout())
	return s
}

// SetReplyTimeout bounds each caller-reply call. Safe to call while serving.
func (s *SessionService) SetReplyTimeout(d time.Duration) {
	if d <= 0 {
		d = 30 * time.Second
	}
	s.replyTimeout.Store(int64(d))
}

type SessionView struct {
	*model.Session
	Turns []model.TranscriptTurn `json:"turns"`
}

type MessageExchange struct {
	UserTurn      *model.TranscriptTurn `json:"userTurn"`
	AssistantTurn *model.TranscriptTurn `json:"assistantTurn"`
}

func (s *SessionService) openingLine(scenario *model.Scenario) string {
	if strings.TrimSpace(scenario.OpeningLine) != "" {
		return scenario.OpeningLine
	}
	return s.greeting
}

func (s *SessionService) findScenario(ctx context.Context, repo *repository.ScenarioRepository, id *string) (*model.Scenario, error) {
	if id == nil {
		return nil, fmt.Errorf("%w: session has no scenario", util.ErrNotFound)
	}
	scenario, err := repo.FindByID(ctx, *id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: scenario %s", util.ErrNotFound, *id)
		}
		return nil, err
	}
	return scenario, nil
}

// CreateSession starts the session for an assignment. The session row, its greeting turn
// and the assignment's move to in_progress commit together.
func (s *SessionService) CreateSession(ctx context.Context, actor model.Actor, assignmentID string) (*SessionView, error) {
	var view *SessionView
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assignments := s.AssignmentRepo.WithTx(tx)
		sessions := s.SessionRepo.WithTx(tx)

		a, err := assignments.FindByIDForUpdate(ctx, assignmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: assignment %s", util.ErrNotFound, assignmentID)
			}
			return err
		}
		if !model.CanAccessResource(actor, a.CounselorID) {
			return fmt.Errorf("%w: assignment %s", util.ErrForbidden, assignmentID)
		}
		if a.Status == model.AssignmentCompleted {
			return fmt.Errorf("%w: assignment %s is already completed", util.ErrConflict, assignmentID)
		}
		if _, err := sessions.FindByAssignmentID(ctx, assignmentID); err == nil {
			return fmt.Errorf("%w: assignment %s already has a session", util.ErrConflict, assignmentID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		scenario, err := s.findScenario(ctx, s.ScenarioRepo.WithTx(tx), &a.ScenarioID)
		if err != nil {
			return err
		}

		now := s.now()
		expected := a.Status
		if err := advanceAssignment(a, model.AssignmentInProgress, now); err != nil {
			return err
		}
		if a.Status != expected {
			if err := assignments.Save(ctx, a, expected); err != nil {
				return err
			}
		}

		view, err = s.startSession(ctx, tx, &model.Session{
			AssignmentID: &a.ID,
			ScenarioID:   &a.ScenarioID,
		}, scenario, now)
		return err
	})
	if err != nil {
		if repository.IsUniqueViolation(err) || errors.Is(err, repository.ErrStaleWrite) {
			return nil, fmt.Errorf("%w: assignment %s already has a session", util.ErrConflict, assignmentID)
		}
		return nil, err
	}

	logger.Log.Info("session created",
		zap.String("session_id", view.ID),
		zap.String("assignment_id", assignmentID),
		zap.Uint("actor_id", actor.ID))
	publish(ctx, s.Publisher, events.Event{
		Type:         events.SessionCreated,
		SessionID:    view.ID,
		AssignmentID: assignmentID,
		Attempt:      1,
		OccurredAt:   view.StartedAt,
	})
	return view, nil
}

// CreatePracticeSession starts a free-practice run owned by the caller.
func (s *SessionService) CreatePracticeSession(ctx context.Context, actor model.Actor, scenarioID string) (*SessionView, error) {
	scenario, err := s.findScenario(ctx, s.ScenarioRepo, &scenarioID)
	if err != nil {
		return nil, err
	}

	var view *SessionView
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userID := actor.ID
		view, err = s.startSession(ctx, tx, &model.Session{
			UserID:     &userID,
			ScenarioID: &scenario.ID,
		}, scenario, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("practice session created",
		zap.String("session_id", view.ID),
		zap.String("scenario_id", scenarioID),
		zap.Uint("user_id", actor.ID))
	publish(ctx, s.Publisher, events.Event{
		Type:       events.SessionCreated,
		SessionID:  view.ID,
		Attempt:    1,
		OccurredAt: view.StartedAt,
	})
	return view, nil
}

func (s *SessionService) startSession(ctx context.Context, tx *gorm.DB, sess *model.Session, scenario *model.Scenario, now time.Time) (*SessionView, error) {
	sess.Status = model.SessionActive
	sess.CurrentAttempt = 1
	sess.StartedAt = now
	if err := s.SessionRepo.WithTx(tx).Create(ctx, sess); err != nil {
		return nil, err
	}
	greeting, err := s.insertGreeting(ctx, tx, sess.ID, 1, scenario)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Turns: []model.TranscriptTurn{*greeting}}, nil
}

func (s *SessionService) insertGreeting(ctx context.Context, tx *gorm.DB, sessionID string, attempt int, scenario *model.Scenario) (*model.TranscriptTurn, error) {
	turn := &model.TranscriptTurn{
		SessionID:     sessionID,
		AttemptNumber: attempt,
		TurnOrder:     1,
		Role:          model.TurnRoleAssistant,
		Content:       s.openingLine(scenario),
	}
	if err := s.TranscriptRepo.WithTx(tx).Create(ctx, turn); err != nil {
		return nil, err
	}
	return turn, nil
}

// AppendTurn adds one turn to the session's current attempt.
func (s *SessionService) AppendTurn(ctx context.Context, sessionID string, role model.TurnRole, content string) (*model.TranscriptTurn, error) {
	return s.appendTurn(ctx, sessionID, role, content, 0)
}

// appendTurn reads the attempt's highest turn_order and inserts the next one inside a
// transaction holding the session row lock; the unique (session, attempt, turn_order)
// index backs this up, and a collision reruns the transaction. A non-zero
// expectedAttempt makes the append fail if the session has moved to another attempt.
func (s *SessionService) appendTurn(ctx context.Context, sessionID string, role model.TurnRole, content string, expectedAttempt int) (*model.TranscriptTurn, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", util.ErrInvalidInput, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is empty", util.ErrInvalidInput)
	}

	var turn *model.TranscriptTurn
	retries, err := repository.Transact(ctx, s.DB, s.appendRetries, func(tx *gorm.DB) error {
		sess, err := s.SessionRepo.WithTx(tx).FindByIDForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: session %s", util.ErrNotFound, sessionID)
			}
			return err
		}
		if sess.Status != model.SessionActive {
			return fmt.Errorf("%w: session %s is %s", util.ErrConflict, sessionID, sess.Status)
		}
		if expectedAttempt > 0 && sess.CurrentAttempt != expectedAttempt {
			return fmt.Errorf("%w: session %s moved to attempt %d", util.ErrConflict, sessionID, sess.CurrentAttempt)
		}

		transcripts := s.TranscriptRepo.WithTx(tx)
		last, err := transcripts.MaxTurnOrder(ctx, sessionID, sess.CurrentAttempt)
		if err != nil {
			return err
		}
		t := &model.TranscriptTurn{
			SessionID:     sessionID,
			AttemptNumber: sess.CurrentAttempt,
			TurnOrder:     last + 1,
			Role:          role,
			Content:       content,
		}
		if err := transcripts.Create(ctx, t); err != nil {
			return err
		}
		turn = t
		return nil
	})
	if retries > 0 {
		monitoring.TranscriptAppendRetries.Add(float64(retries))
		logger.Log.Warn("transcript append retried",
			zap.String("session_id", sessionID),
			zap.Int("retries", retries))
	}
	if err != nil {
		if repository.IsUniqueViolation(err) || repository.IsRetryable(err) {
			return nil, fmt.Errorf("%w: concurrent writes to session %s, try again", util.ErrConflict, sessionID)
		}
		return nil, err
	}
	return turn, nil
}

// loadSessionForActor fetches the session and, for assignment runs, its assignment, and
// checks the actor may act on it.
func loadSessionForActor(ctx context.Context, sessions *repository.SessionRepository, assignments *repository.AssignmentRepository, actor model.Actor, sessionID string) (*model.Session, *model.Assignment, error) {
	sess, err := sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: session %s", util.ErrNotFound, sessionID)
		}
		return nil, nil, err
	}
	var a *model.Assignment
	if sess.AssignmentID != nil {
		a, err = assignments.FindByID(ctx, *sess.AssignmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, fmt.Errorf("%w: assignment %s", util.ErrNotFound, *sess.AssignmentID)
			}
			return nil, nil, err
		}
	}
	if !model.CanAccessResource(actor, sess.OwnerID(a)) {
		return nil, nil, fmt.Errorf("%w: session %s", util.ErrForbidden, sessionID)
	}
	return sess, a, nil
}

// AddTurn is AppendTurn for an authenticated caller.
func (s *SessionService) AddTurn(ctx context.Context, actor model.Actor, sessionID string, role model.TurnRole, content string) (*model.TranscriptTurn, error) {
	if _, _, err := loadSessionForActor(ctx, s.SessionRepo, s.AssignmentRepo, actor, sessionID); err != nil {
		return nil, err
	}
	return s.AppendTurn(ctx, sessionID, role, content)
}

// SendMessage appends the counselor's turn, asks the generator for the caller's reply and
// appends it. The user turn stays stored if the generator fails.
func (s *SessionService) SendMessage(ctx context.Context, actor model.Actor, sessionID, content string) (*MessageExchange, error) {
	sess, _, err := loadSessionForActor(ctx, s.SessionRepo, s.AssignmentRepo, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", util.ErrConflict, sessionID, sess.Status)
	}
	scenario, err := s.findScenario(ctx, s.ScenarioRepo, sess.ScenarioID)
	if err != nil {
		return nil, err
	}

	userTurn, err := s.appendTurn(ctx, sessionID, model.TurnRoleUser, content, 0)
	if err != nil {
		return nil, err
	}
	transcript, err := s.TranscriptRepo.ListByAttempt(ctx, sessionID, userTurn.AttemptNumber)
	if err != nil {
		return nil, err
	}

	replyCtx, cancel := context.WithTimeout(ctx, time.Duration(s.replyTimeout.Load()))
	replyCtx, span := tracing.Start(replyCtx, "llm.reply", attribute.String("session.id", sessionID))
	start := time.Now()
	reply, err := s.Generator.Reply(replyCtx, scenario, transcript)
	monitoring.ScoringDuration.WithLabelValues("reply").Observe(time.Since(start).Seconds())
	tracing.Finish(span, err)
	cancel()
	if err != nil {
		logger.Log.Warn("caller reply failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: caller reply failed: %v", util.ErrUpstream, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: caller reply was empty", util.ErrUpstream)
	}

	assistantTurn, err := s.appendTurn(ctx, sessionID, model.TurnRoleAssistant, reply, userTurn.AttemptNumber)
	if err != nil {
		return nil, err
	}
	return &MessageExchange{UserTurn: userTurn, AssistantTurn: assistantTurn}, nil
}

// RetryAttempt discards the live attempt and opens the next one with a fresh greeting.
// Earlier turns stay stored under their attempt number.
func (s *SessionService) RetryAttempt(ctx context.Context, actor model.Actor, sessionID string) (*SessionView, error) {
	var view *SessionView
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions := s.SessionRepo.WithTx(tx)
		assignments := s.AssignmentRepo.WithTx(tx)

		sess, err := sessions.FindByIDForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: session %s", util.ErrNotFound, sessionID)
			}
			return err
		}
		var a *model.Assignment
		if sess.AssignmentID != nil {
			if a, err = assignments.FindByIDForUpdate(ctx, *sess.AssignmentID); err != nil {
				return err
			}
		}
		if !model.CanAccessResource(actor, sess.OwnerID(a)) {
			return fmt.Errorf("%w: session %s", util.ErrForbidden, sessionID)
		}
		if _, err := s.EvaluationRepo.WithTx(tx).FindForSession(ctx, sess); err == nil {
			return fmt.Errorf("%w: session %s has already been evaluated", util.ErrConflict, sessionID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := s.now()
		if a != nil {
			expected := a.Status
			if err := advanceAssignment(a, model.AssignmentInProgress, now); err != nil {
				return fmt.Errorf("%w: assignment %s is %s", util.ErrConflict, a.ID, expected)
			}
			if a.Status != expected {
				if err := assignments.Save(ctx, a, expected); err != nil {
					return err
				}
			}
		}

		if err := sessions.StartNextAttempt(ctx, sessionID, sess.CurrentAttempt); err != nil {
			return err
		}
		sess.CurrentAttempt++
		sess.Status = model.SessionActive
		sess.EndedAt = nil

		scenario, err := s.findScenario(ctx, s.ScenarioRepo.WithTx(tx), sess.ScenarioID)
		if err != nil {
			return err
		}
		greeting, err := s.insertGreeting(ctx, tx, sessionID, sess.CurrentAttempt, scenario)
		if err != nil {
			return err
		}
		view = &SessionView{Session: sess, Turns: []model.TranscriptTurn{*greeting}}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return nil, fmt.Errorf("%w: session %s changed concurrently", util.ErrConflict, sessionID)
		}
		return nil, err
	}

	logger.Log.Info("session attempt restarted",
		zap.String("session_id", sessionID),
		zap.Int("attempt", view.CurrentAttempt))
	event := events.Event{
		Type:       events.SessionRetried,
		SessionID:  sessionID,
		Attempt:    view.CurrentAttempt,
		OccurredAt: s.now(),
	}
	if view.AssignmentID != nil {
		event.AssignmentID = *view.AssignmentID
	}
	publish(ctx, s.Publisher, event)
	return view, nil
}

// GetSession returns the session with one attempt's transcript; attempt 0 means the
// current one.
func (s *SessionService) GetSession(ctx context.Context, actor model.Actor, sessionID string, attempt int) (*SessionView, error) {
	sess, _, err := loadSessionForActor(ctx, s.SessionRepo, s.AssignmentRepo, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if attempt <= 0 {
		attempt = sess.CurrentAttempt
	}
	if attempt > sess.CurrentAttempt {
		return nil, fmt.Errorf("%w: session %s has no attempt %d", util.ErrNotFound, sessionID, attempt)
	}
	turns, err := s.TranscriptRepo.ListByAttempt(ctx, sessionID, attempt)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Turns: turns}, nil
}

func publish(ctx context.Context, pub events.Publisher, event events.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Log.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}
