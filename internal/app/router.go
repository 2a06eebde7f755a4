package app

import (
	"counselor_training_backend/docs"
	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/middleware"
	"counselor_training_backend/internal/model"

	"counselor_training_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.HealthCheck)

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerAssignmentRoutes(authGroup, c)
		a.registerSessionRoutes(authGroup, c)
	}
}

func (a *App) registerAssignmentRoutes(group *gin.RouterGroup, c *controllers) {
	assignments := group.Group("/assignments")
	{
		assignments.GET("", c.assignment.ListAssignments)
		assignments.GET("/:id", c.assignment.GetAssignment)
		assignments.PATCH("/:id", c.assignment.UpdateAssignment)

		// 督导接口
		assignments.POST("", middleware.RoleMiddleware(model.Supervisor), c.assignment.CreateAssignment)
	}
}

func (a *App) registerSessionRoutes(group *gin.RouterGroup, c *controllers) {
	sessions := group.Group("/sessions")
	{
		sessions.POST("", c.session.CreateSession)
		sessions.GET("/:id", c.session.GetSession)
		sessions.PATCH("/:id", c.session.UpdateSession)
		sessions.POST("/:id/message", c.session.SendMessage)
		sessions.POST("/:id/turns", c.session.AppendTurn)
		sessions.POST("/:id/evaluate", c.session.Evaluate)
		sessions.GET("/:id/evaluation", c.session.GetEvaluation)
	}
}
