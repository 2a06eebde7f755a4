package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/middleware"
	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/internal/service"
	"counselor_training_backend/internal/util"
	"counselor_training_backend/pkg/database"
	"counselor_training_backend/pkg/events"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "controller-test-secret-0123456789"

type scriptedModel struct{}

func (scriptedModel) Reply(context.Context, *model.Scenario, []model.TranscriptTurn) (string, error) {
	return "I haven't slept in days.", nil
}

func (scriptedModel) Score(context.Context, *model.Scenario, []model.TranscriptTurn) (*service.ScoreResult, error) {
	score := 64.0
	return &service.ScoreResult{
		OverallScore:   &score,
		Feedback:       json.RawMessage(`{"rapport":"ok"}`),
		Strengths:      []string{},
		AreasToImprove: []string{"ask about safety"},
		Flags:          []service.ScoreFlag{{Type: "risk_not_assessed", Severity: "critical"}},
	}, nil
}

type apiHarness struct {
	router   *gin.Engine
	scenario *model.Scenario
}

func newHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	util.RegisterValidators()

	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", DBName: ":memory:"}, false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{JWT: config.JWTConfig{Secret: jwtSecret}}
	sessionCfg := config.SessionConfig{Greeting: "Hello?", AppendRetries: 3, MinTurnsToEvaluate: 2}
	aiCfg := config.AIConfig{ReplyTimeoutSeconds: 5, ScoringTimeoutSeconds: 5}

	scenarios := repository.NewScenarioRepository(db, nil)
	assignments := repository.NewAssignmentRepository(db)
	sessions := repository.NewSessionRepository(db)
	transcripts := repository.NewTranscriptRepository(db)
	evaluations := repository.NewEvaluationRepository(db)
	publisher := events.NewNoopPublisher()

	assignmentCtl := NewAssignmentController(service.NewAssignmentService(assignments, scenarios, db))
	sessionCtl := NewSessionController(
		service.NewSessionService(db, sessions, transcripts, assignments, scenarios, evaluations, scriptedModel{}, publisher, sessionCfg, aiCfg),
		service.NewEvaluationService(db, sessions, transcripts, assignments, scenarios, evaluations, scriptedModel{}, publisher, sessionCfg, aiCfg),
	)

	router := gin.New()
	api := router.Group("/api", middleware.AuthMiddleware(cfg))
	api.POST("/assignments", middleware.RoleMiddleware(model.Supervisor), assignmentCtl.CreateAssignment)
	api.GET("/assignments", assignmentCtl.ListAssignments)
	api.GET("/assignments/:id", assignmentCtl.GetAssignment)
	api.PATCH("/assignments/:id", assignmentCtl.UpdateAssignment)
	api.POST("/sessions", sessionCtl.CreateSession)
	api.GET("/sessions/:id", sessionCtl.GetSession)
	api.PATCH("/sessions/:id", sessionCtl.UpdateSession)
	api.POST("/sessions/:id/message", sessionCtl.SendMessage)
	api.POST("/sessions/:id/turns", sessionCtl.AppendTurn)
	api.POST("/sessions/:id/evaluate", sessionCtl.Evaluate)
	api.GET("/sessions/:id/evaluation", sessionCtl.GetEvaluation)

	scenario := &model.Scenario{Title: "Insomnia", Prompt: "Exhausted caller."}
	require.NoError(t, scenarios.Create(context.Background(), scenario))
	return &apiHarness{router: router, scenario: scenario}
}

type apiResponse struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

func (h *apiHarness) do(t *testing.T, actor model.Actor, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != 0 {
		token, err := util.GenerateJWT(actor, jwtSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

var (
	supervisor = model.Actor{ID: 1, Role: model.Supervisor}
	counselor  = model.Actor{ID: 20, Role: model.Counselor}
)

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(t, supervisor, http.MethodPost, "/api/assignments", gin.H{
		"scenarioId": h.scenario.ID, "counselorId": counselor.ID,
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var assignment model.Assignment
	require.NoError(t, json.Unmarshal(resp.Data, &assignment))

	code, resp = h.do(t, counselor, http.MethodPatch, "/api/assignments/"+assignment.ID, gin.H{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, util.KindInvalidTransition, resp.Error)

	code, resp = h.do(t, counselor, http.MethodPatch, "/api/assignments/"+assignment.ID, gin.H{
		"status": "completed", "dueDate": "2026-06-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, util.KindInvalidTransition, resp.Error)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions", gin.H{"assignmentId": assignment.ID})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var session service.SessionView
	require.NoError(t, json.Unmarshal(resp.Data, &session))

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions", gin.H{"assignmentId": assignment.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, util.KindConflict, resp.Error)
	assert.False(t, resp.Retryable)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions/"+session.ID+"/evaluate", nil)
	assert.Equal(t, http.StatusTooEarly, code)
	assert.Equal(t, util.KindTooEarly, resp.Error)
	assert.True(t, resp.Retryable)

	code, _ = h.do(t, counselor, http.MethodPatch, "/api/sessions/"+session.ID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions/"+session.ID+"/message", gin.H{"content": "I'm here. What's keeping you up?"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var exchange service.MessageExchange
	require.NoError(t, json.Unmarshal(resp.Data, &exchange))
	assert.Equal(t, 3, exchange.AssistantTurn.TurnOrder)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions/"+session.ID+"/evaluate", nil)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var result service.EvaluationResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, service.OutcomeCreated, result.Outcome)
	require.Len(t, result.Evaluation.Flags, 1)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions/"+session.ID+"/evaluate", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, resp = h.do(t, supervisor, http.MethodGet, "/api/sessions/"+session.ID+"/evaluation", nil)
	require.Equal(t, http.StatusOK, code)
	var evaluation model.Evaluation
	require.NoError(t, json.Unmarshal(resp.Data, &evaluation))
	assert.Equal(t, result.Evaluation.ID, evaluation.ID)

	code, resp = h.do(t, counselor, http.MethodGet, "/api/assignments/"+assignment.ID, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &assignment))
	assert.Equal(t, model.AssignmentCompleted, assignment.Status)
}

func TestAuthAndRoleChecks(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(t, model.Actor{}, http.MethodGet, "/api/assignments", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, util.KindUnauthorized, resp.Error)

	code, _ = h.do(t, counselor, http.MethodPost, "/api/assignments", gin.H{
		"scenarioId": h.scenario.ID, "counselorId": counselor.ID,
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, util.KindInvalidInput, resp.Error)
}

func TestAppendTurnValidatesRole(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(t, counselor, http.MethodPost, "/api/sessions", gin.H{"scenarioId": h.scenario.ID})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var session service.SessionView
	require.NoError(t, json.Unmarshal(resp.Data, &session))

	code, _ = h.do(t, counselor, http.MethodPost, "/api/sessions/"+session.ID+"/turns", gin.H{"role": "system", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = h.do(t, counselor, http.MethodPost, "/api/sessions/"+session.ID+"/turns", gin.H{"role": "user", "content": "Can you tell me more?"})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var turn model.TranscriptTurn
	require.NoError(t, json.Unmarshal(resp.Data, &turn))
	assert.Equal(t, 2, turn.TurnOrder)

	code, resp = h.do(t, counselor, http.MethodGet, "/api/sessions/"+session.ID+"?attempt=1", nil)
	require.Equal(t, http.StatusOK, code)
	var view service.SessionView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	assert.Len(t, view.Turns, 2)
}
