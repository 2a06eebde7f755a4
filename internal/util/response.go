package util

import (
	"counselor_training_backend/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable,omitempty"` // too_early / upstream_error 可直接重试
	Data      interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, kind, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Error:   kind,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, KindUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, KindForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, KindInvalidInput, message)
}

// RespondError writes err using the error taxonomy. Unclassified errors are logged and masked.
func RespondError(c *gin.Context, err error) {
	kind, status := ErrorKind(err)
	if kind == KindInternal {
		logger.Log.Error("Internal server error",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		Error(c, status, kind, "Internal server error")
		return
	}
	c.JSON(status, Response{
		Code:      status,
		Message:   err.Error(),
		Error:     kind,
		Retryable: IsRetryableKind(err),
	})
}
