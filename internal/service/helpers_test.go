package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/pkg/database"
	"counselor_training_backend/pkg/events"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	supervisor = model.Actor{ID: 1, Role: model.Supervisor}
	counselor  = model.Actor{ID: 7, Role: model.Counselor}
	outsider   = model.Actor{ID: 9, Role: model.Counselor}
)

type fakeGenerator struct {
	reply string
	err   error
	calls atomic.Int32
}

func (g *fakeGenerator) Reply(ctx context.Context, _ *model.Scenario, _ []model.TranscriptTurn) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeScorer struct {
	score   float64
	flags   []ScoreFlag
	err     error
	block   bool
	barrier *sync.WaitGroup
	// during runs while the scorer holds the transcript, before it answers
	during func(ctx context.Context)

	mu    sync.Mutex
	seen  [][]model.TranscriptTurn
	calls atomic.Int32
}

func (s *fakeScorer) Score(ctx context.Context, _ *model.Scenario, transcript []model.TranscriptTurn) (*ScoreResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, transcript)
	s.mu.Unlock()

	if s.barrier != nil {
		s.barrier.Done()
		s.barrier.Wait()
	}
	if s.during != nil {
		s.during(ctx)
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	score := s.score
	return &ScoreResult{
		OverallScore:   &score,
		Feedback:       []byte(`{"empathy":"good"}`),
		Strengths:      []string{"active listening"},
		AreasToImprove: []string{},
		Flags:          s.flags,
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db          *gorm.DB
	assignments *AssignmentService
	sessions    *SessionService
	evaluations *EvaluationService
	generator   *fakeGenerator
	scorer      *fakeScorer
	publisher   *recordingPublisher
	scenario    *model.Scenario
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", DBName: ":memory:"}, false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	scenarioRepo := repository.NewScenarioRepository(db, nil)
	assignmentRepo := repository.NewAssignmentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	transcriptRepo := repository.NewTranscriptRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)

	env := &testEnv{
		db:        db,
		generator: &fakeGenerator{reply: "I just don't know what to do anymore."},
		scorer:    &fakeScorer{score: 82},
		publisher: &recordingPublisher{},
	}
	sessionCfg := config.SessionConfig{Greeting: "Hello? ...is someone there?", AppendRetries: 5, MinTurnsToEvaluate: 2}
	aiCfg := config.AIConfig{ReplyTimeoutSeconds: 5, ScoringTimeoutSeconds: 5}

	env.assignments = NewAssignmentService(assignmentRepo, scenarioRepo, db)
	env.sessions = NewSessionService(db, sessionRepo, transcriptRepo, assignmentRepo, scenarioRepo,
		evaluationRepo, env.generator, env.publisher, sessionCfg, aiCfg)
	env.evaluations = NewEvaluationService(db, sessionRepo, transcriptRepo, assignmentRepo, scenarioRepo,
		evaluationRepo, env.scorer, env.publisher, sessionCfg, aiCfg)

	env.scenario = &model.Scenario{
		Title:  "Late-night caller",
		Prompt: "A student calls after failing an exam and feels hopeless.",
		Mode:   model.ScenarioModeText,
	}
	require.NoError(t, scenarioRepo.Create(context.Background(), env.scenario))
	return env
}

func (e *testEnv) assign(t *testing.T, counselorID uint) *model.Assignment {
	t.Helper()
	a, err := e.assignments.Create(context.Background(), supervisor, CreateAssignmentRequest{
		ScenarioID:  e.scenario.ID,
		CounselorID: counselorID,
	})
	require.NoError(t, err)
	return a
}

// startSession creates an assignment for counselor and opens its session.
func (e *testEnv) startSession(t *testing.T) (*model.Assignment, *SessionView) {
	t.Helper()
	a := e.assign(t, counselor.ID)
	view, err := e.sessions.CreateSession(context.Background(), counselor, a.ID)
	require.NoError(t, err)
	return a, view
}

func (e *testEnv) reloadAssignment(t *testing.T, id string) *model.Assignment {
	t.Helper()
	a, err := repository.NewAssignmentRepository(e.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) reloadSession(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := repository.NewSessionRepository(e.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (e *testEnv) countEvaluations(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Evaluation{}).Count(&n).Error)
	return n
}

func (e *testEnv) countFlags(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.SessionFlag{}).Count(&n).Error)
	return n
}

var errProviderDown = errors.New("provider unavailable")

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
