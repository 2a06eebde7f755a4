package controller

import (
	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/service"
	"counselor_training_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type SessionController struct {
	sessions    *service.SessionService
	evaluations *service.EvaluationService
}

func NewSessionController(sessions *service.SessionService, evaluations *service.EvaluationService) *SessionController {
	return &SessionController{sessions: sessions, evaluations: evaluations}
}

// CreateSessionRequest: assignmentId starts the assignment's session; scenarioId alone
// starts a free-practice run.
type CreateSessionRequest struct {
	AssignmentID string `json:"assignmentId"`
	ScenarioID   string `json:"scenarioId"`
}

type UpdateSessionRequest struct {
	IncrementAttempt bool `json:"incrementAttempt"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type AppendTurnRequest struct {
	Role    model.TurnRole `json:"role" binding:"required,turnrole"`
	Content string         `json:"content" binding:"required"`
}

// CreateSession godoc
// @Summary 开始训练会话
// @Description 传 assignmentId 开始分配的会话（分配进入 in_progress），只传 scenarioId 开始自由练习
// @Tags 会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body CreateSessionRequest true "会话来源"
// @Success 201 {object} util.Response{data=service.SessionView}
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/sessions [post]
func (c *SessionController) CreateSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var (
		view *service.SessionView
		err  error
	)
	switch {
	case req.AssignmentID != "":
		view, err = c.sessions.CreateSession(ctx.Request.Context(), user.Actor(), req.AssignmentID)
	case req.ScenarioID != "":
		view, err = c.sessions.CreatePracticeSession(ctx.Request.Context(), user.Actor(), req.ScenarioID)
	default:
		util.BadRequest(ctx, "assignmentId or scenarioId is required")
		return
	}
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, view)
}

// GetSession godoc
// @Summary 获取会话及对话记录
// @Tags 会话
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Param attempt query int false "第几次尝试，默认当前"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id} [get]
func (c *SessionController) GetSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attempt := 0
	if raw := ctx.Query("attempt"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			util.BadRequest(ctx, "invalid attempt")
			return
		}
		attempt = n
	}

	view, err := c.sessions.GetSession(ctx.Request.Context(), user.Actor(), ctx.Param("id"), attempt)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// UpdateSession godoc
// @Summary 重新开始本次会话
// @Description incrementAttempt=true 时开启新的尝试，之前的对话保留但不再参与评估
// @Tags 会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Param body body UpdateSessionRequest true "操作"
// @Success 200 {object} util.Response{data=service.SessionView}
// @Failure 403 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/sessions/{id} [patch]
func (c *SessionController) UpdateSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req UpdateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if !req.IncrementAttempt {
		util.BadRequest(ctx, "only incrementAttempt is supported")
		return
	}

	view, err := c.sessions.RetryAttempt(ctx.Request.Context(), user.Actor(), ctx.Param("id"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// SendMessage godoc
// @Summary 发送咨询员消息并获取来电者回复
// @Tags 会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Param body body SendMessageRequest true "消息"
// @Success 200 {object} util.Response{data=service.MessageExchange}
// @Failure 409 {object} util.Response
// @Failure 502 {object} util.Response
// @Router /api/sessions/{id}/message [post]
func (c *SessionController) SendMessage(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	exchange, err := c.sessions.SendMessage(ctx.Request.Context(), user.Actor(), ctx.Param("id"), req.Content)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, exchange)
}

// AppendTurn godoc
// @Summary 追加一条对话记录
// @Description 语音通道等外部来源直接写入转写结果
// @Tags 会话
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Param body body AppendTurnRequest true "对话"
// @Success 201 {object} util.Response{data=model.TranscriptTurn}
// @Failure 409 {object} util.Response
// @Router /api/sessions/{id}/turns [post]
func (c *SessionController) AppendTurn(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req AppendTurnRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	turn, err := c.sessions.AddTurn(ctx.Request.Context(), user.Actor(), ctx.Param("id"), req.Role, req.Content)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, turn)
}

// Evaluate godoc
// @Summary 评估会话
// @Description 对当前尝试评分并完成会话与分配。并发请求只会生成一条评估：先提交者返回 201，其余返回 200 和同一条评估
// @Tags 会话
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 201 {object} util.Response{data=service.EvaluationResult}
// @Success 200 {object} util.Response{data=service.EvaluationResult}
// @Failure 409 {object} util.Response
// @Failure 425 {object} util.Response
// @Failure 502 {object} util.Response
// @Router /api/sessions/{id}/evaluate [post]
func (c *SessionController) Evaluate(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.evaluations.Evaluate(ctx.Request.Context(), user.Actor(), ctx.Param("id"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	if result.Outcome == service.OutcomeCreated {
		util.Created(ctx, result)
		return
	}
	util.Success(ctx, result)
}

// GetEvaluation godoc
// @Summary 获取会话评估结果
// @Tags 会话
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "会话ID"
// @Success 200 {object} util.Response{data=model.Evaluation}
// @Failure 404 {object} util.Response
// @Router /api/sessions/{id}/evaluation [get]
func (c *SessionController) GetEvaluation(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	evaluation, err := c.evaluations.GetEvaluation(ctx.Request.Context(), user.Actor(), ctx.Param("id"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, evaluation)
}
