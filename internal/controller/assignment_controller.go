package controller

import (
	"counselor_training_backend/internal/model"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/internal/service"
	"counselor_training_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type AssignmentController struct {
	service *service.AssignmentService
}

func NewAssignmentController(s *service.AssignmentService) *AssignmentController {
	return &AssignmentController{service: s}
}

// CreateAssignment godoc
// @Summary 督导分配训练场景
// @Description 同一咨询员同一场景同时只能有一个未完成的分配
// @Tags 分配
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.CreateAssignmentRequest true "分配内容"
// @Success 201 {object} util.Response{data=model.Assignment}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /api/assignments [post]
func (c *AssignmentController) CreateAssignment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.CreateAssignmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	assignment, err := c.service.Create(ctx.Request.Context(), user.Actor(), req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Created(ctx, assignment)
}

// GetAssignment godoc
// @Summary 获取分配详情
// @Tags 分配
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "分配ID"
// @Success 200 {object} util.Response{data=model.Assignment}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/assignments/{id} [get]
func (c *AssignmentController) GetAssignment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	assignment, err := c.service.Get(ctx.Request.Context(), user.Actor(), ctx.Param("id"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, assignment)
}

// ListAssignments godoc
// @Summary 分配列表
// @Description 咨询员只能看到自己的分配
// @Tags 分配
// @Produce json
// @Security ApiKeyAuth
// @Param counselorId query int false "咨询员ID（仅督导）"
// @Param status query string false "状态" Enums(pending, in_progress, completed)
// @Param page query int false "页码" default(1)
// @Param pageSize query int false "每页条数" default(20)
// @Success 200 {object} util.Response{data=map[string]interface{}}
// @Router /api/assignments [get]
func (c *AssignmentController) ListAssignments(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := repository.AssignmentFilter{
		Status: model.AssignmentStatus(ctx.Query("status")),
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	}
	if raw := ctx.Query("counselorId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			util.BadRequest(ctx, "invalid counselorId")
			return
		}
		counselorID := uint(id)
		filter.CounselorID = &counselorID
	}

	items, total, err := c.service.List(ctx.Request.Context(), user.Actor(), filter)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// UpdateAssignment godoc
// @Summary 更新分配状态
// @Description 咨询员只能修改自己分配的状态；截止日期和备注仅督导可改；completed 只能通过评估到达
// @Tags 分配
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "分配ID"
// @Param body body service.UpdateAssignmentRequest true "更新内容"
// @Success 200 {object} util.Response{data=model.Assignment}
// @Failure 400 {object} util.Response
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/assignments/{id} [patch]
func (c *AssignmentController) UpdateAssignment(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.UpdateAssignmentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	assignment, err := c.service.Update(ctx.Request.Context(), user.Actor(), ctx.Param("id"), req)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, assignment)
}
