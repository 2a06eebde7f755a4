package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/internal/util"
	"counselor_training_backend/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionStartsAssignment(t *testing.T) {
	env := newTestEnv(t)
	a, view := env.startSession(t)

	assert.Equal(t, model.SessionActive, view.Status)
	assert.Equal(t, 1, view.CurrentAttempt)
	require.NotNil(t, view.AssignmentID)
	assert.Equal(t, a.ID, *view.AssignmentID)

	require.Len(t, view.Turns, 1)
	greeting := view.Turns[0]
	assert.Equal(t, 1, greeting.TurnOrder)
	assert.Equal(t, 1, greeting.AttemptNumber)
	assert.Equal(t, model.TurnRoleAssistant, greeting.Role)
	assert.Equal(t, "Hello? ...is someone there?", greeting.Content)

	stored := env.reloadAssignment(t, a.ID)
	assert.Equal(t, model.AssignmentInProgress, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.Equal(t, []string{events.SessionCreated}, env.publisher.types())
}

func TestCreateSessionUsesScenarioOpeningLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	scenario := &model.Scenario{Title: "Anniversary", Prompt: "Grieving caller.", OpeningLine: "Um. Hi. Sorry, I don't usually do this."}
	require.NoError(t, repository.NewScenarioRepository(env.db, nil).Create(ctx, scenario))

	a, err := env.assignments.Create(ctx, supervisor, CreateAssignmentRequest{ScenarioID: scenario.ID, CounselorID: counselor.ID})
	require.NoError(t, err)
	view, err := env.sessions.CreateSession(ctx, counselor, a.ID)
	require.NoError(t, err)
	assert.Equal(t, scenario.OpeningLine, view.Turns[0].Content)
}

func TestCreateSessionFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.sessions.CreateSession(ctx, counselor, "missing")
	assert.ErrorIs(t, err, util.ErrNotFound)

	a := env.assign(t, counselor.ID)
	_, err = env.sessions.CreateSession(ctx, outsider, a.ID)
	assert.ErrorIs(t, err, util.ErrForbidden)
	assert.Equal(t, model.AssignmentPending, env.reloadAssignment(t, a.ID).Status)

	_, err = env.sessions.CreateSession(ctx, counselor, a.ID)
	require.NoError(t, err)
	_, err = env.sessions.CreateSession(ctx, counselor, a.ID)
	assert.ErrorIs(t, err, util.ErrConflict)
}

func TestCreateSessionOnCompletedAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.assign(t, counselor.ID)

	// a completed assignment with no session only arises from data written elsewhere
	stored := env.reloadAssignment(t, a.ID)
	require.NoError(t, advanceAssignment(stored, model.AssignmentCompleted, stored.CreatedAt))
	require.NoError(t, repository.NewAssignmentRepository(env.db).Save(ctx, stored, model.AssignmentPending))

	_, err := env.sessions.CreateSession(ctx, counselor, a.ID)
	assert.ErrorIs(t, err, util.ErrConflict)

	var n int64
	require.NoError(t, env.db.Model(&model.Session{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestConcurrentAppendsStayContiguous(t *testing.T) {
	env := newTestEnv(t)
	_, view := env.startSession(t)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role := model.TurnRoleUser
			if i%2 == 1 {
				role = model.TurnRoleAssistant
			}
			_, err := env.sessions.AppendTurn(context.Background(), view.ID, role, fmt.Sprintf("message %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	turns, err := repository.NewTranscriptRepository(env.db).ListByAttempt(context.Background(), view.ID, 1)
	require.NoError(t, err)
	require.Len(t, turns, writers+1)

	orders := make([]int, 0, len(turns))
	for _, turn := range turns {
		orders = append(orders, turn.TurnOrder)
	}
	sort.Ints(orders)
	for i, order := range orders {
		assert.Equal(t, i+1, order)
	}
}

func TestAppendTurnValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, view := env.startSession(t)

	_, err := env.sessions.AppendTurn(ctx, view.ID, model.TurnRole("system"), "hi")
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	_, err = env.sessions.AppendTurn(ctx, view.ID, model.TurnRoleUser, "   ")
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	_, err = env.sessions.AppendTurn(ctx, "missing", model.TurnRoleUser, "hi")
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = env.sessions.AddTurn(ctx, outsider, view.ID, model.TurnRoleUser, "hi")
	assert.ErrorIs(t, err, util.ErrForbidden)
}

func TestSendMessageAppendsBothTurns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, view := env.startSession(t)

	exchange, err := env.sessions.SendMessage(ctx, counselor, view.ID, "Hi, you've reached the crisis line. What's going on tonight?")
	require.NoError(t, err)
	assert.Equal(t, 2, exchange.UserTurn.TurnOrder)
	assert.Equal(t, model.TurnRoleUser, exchange.UserTurn.Role)
	assert.Equal(t, 3, exchange.AssistantTurn.TurnOrder)
	assert.Equal(t, model.TurnRoleAssistant, exchange.AssistantTurn.Role)
	assert.Equal(t, env.generator.reply, exchange.AssistantTurn.Content)
}

func TestSendMessageKeepsUserTurnWhenReplyFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.generator.err = errProviderDown
	_, view := env.startSession(t)

	_, err := env.sessions.SendMessage(ctx, counselor, view.ID, "Are you safe right now?")
	require.ErrorIs(t, err, util.ErrUpstream)

	got, err := env.sessions.GetSession(ctx, counselor, view.ID, 0)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "Are you safe right now?", got.Turns[1].Content)
}

func TestRetryAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, view := env.startSession(t)

	_, err := env.sessions.AppendTurn(ctx, view.ID, model.TurnRoleUser, "derailed opening")
	require.NoError(t, err)

	retried, err := env.sessions.RetryAttempt(ctx, counselor, view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.CurrentAttempt)
	assert.Equal(t, model.SessionActive, retried.Status)
	require.Len(t, retried.Turns, 1)
	assert.Equal(t, 2, retried.Turns[0].AttemptNumber)
	assert.Equal(t, 1, retried.Turns[0].TurnOrder)

	turn, err := env.sessions.AppendTurn(ctx, view.ID, model.TurnRoleUser, "fresh start")
	require.NoError(t, err)
	assert.Equal(t, 2, turn.AttemptNumber)
	assert.Equal(t, 2, turn.TurnOrder)

	first, err := env.sessions.GetSession(ctx, counselor, view.ID, 1)
	require.NoError(t, err)
	assert.Len(t, first.Turns, 2)

	_, err = env.sessions.GetSession(ctx, counselor, view.ID, 3)
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = env.sessions.RetryAttempt(ctx, outsider, view.ID)
	assert.ErrorIs(t, err, util.ErrForbidden)

	assert.Equal(t, []string{events.SessionCreated, events.SessionRetried}, env.publisher.types())
}

func TestRetryAfterResetReopensAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a, view := env.startSession(t)

	pending := model.AssignmentPending
	_, err := env.assignments.Update(ctx, supervisor, a.ID, UpdateAssignmentRequest{Status: &pending})
	require.NoError(t, err)

	_, err = env.sessions.RetryAttempt(ctx, counselor, view.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentInProgress, env.reloadAssignment(t, a.ID).Status)
}

func TestRetryAfterEvaluationConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, view := env.startSession(t)
	_, err := env.sessions.AppendTurn(ctx, view.ID, model.TurnRoleUser, "Thanks for calling.")
	require.NoError(t, err)
	_, err = env.evaluations.Evaluate(ctx, counselor, view.ID)
	require.NoError(t, err)

	_, err = env.sessions.RetryAttempt(ctx, counselor, view.ID)
	assert.ErrorIs(t, err, util.ErrConflict)

	_, err = env.sessions.AppendTurn(ctx, view.ID, model.TurnRoleUser, "late message")
	assert.ErrorIs(t, err, util.ErrConflict)
}

func TestPracticeSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.sessions.CreatePracticeSession(ctx, counselor, env.scenario.ID)
	require.NoError(t, err)
	assert.Nil(t, view.AssignmentID)
	require.NotNil(t, view.UserID)
	assert.Equal(t, counselor.ID, *view.UserID)
	require.Len(t, view.Turns, 1)

	_, err = env.sessions.GetSession(ctx, outsider, view.ID, 0)
	assert.ErrorIs(t, err, util.ErrForbidden)
	_, err = env.sessions.GetSession(ctx, supervisor, view.ID, 0)
	assert.NoError(t, err)

	_, err = env.sessions.CreatePracticeSession(ctx, counselor, "missing")
	assert.ErrorIs(t, err, util.ErrNotFound)
}
