package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fyerfyer/doc-assess-system/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AppError 带HTTP状态码的应用错误
// 处理器通过HandleError上报，由ErrorMiddleware统一转换为响应
type AppError struct {
	Status  int    // HTTP状态码
	Message string // 返回给客户端的消息
	Err     error  // 底层错误，仅记录日志
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError 创建请求参数错误
func NewValidationError(message string, cause error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Message: message, Err: cause}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Message: message}
}

// NewInternalError 创建内部错误，底层错误只记录日志不返回客户端
func NewInternalError(message string, cause error) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Message: message, Err: cause}
}

// HandleError 把错误挂到请求上下文，交由ErrorMiddleware统一响应
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorMiddleware 统一错误处理中间件
// 恢复panic并把处理器上报的错误转换为统一响应格式
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				resp := model.NewErrorResponse(http.StatusInternalServerError, "服务器内部错误")
				if gin.Mode() == gin.DebugMode {
					resp.Message = fmt.Sprintf("panic: %v", r)
				}
				resp.TraceID = traceIDFrom(c)
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		traceID := traceIDFrom(c)

		var appErr *AppError
		if errors.As(err, &appErr) {
			entry := log.WithFields(logrus.Fields{
				"status":   appErr.Status,
				"trace_id": traceID,
				"path":     c.Request.URL.Path,
			})
			if appErr.Err != nil {
				entry = entry.WithError(appErr.Err)
			}
			entry.Error(appErr.Message)

			resp := model.NewErrorResponse(appErr.Status, appErr.Message)
			resp.TraceID = traceID
			c.JSON(appErr.Status, resp)
			return
		}

		// 未分类的错误一律按内部错误处理
		log.WithFields(logrus.Fields{
			"trace_id": traceID,
			"path":     c.Request.URL.Path,
		}).Error(err.Error())

		resp := model.NewErrorResponse(http.StatusInternalServerError, "服务器内部错误")
		if gin.Mode() == gin.DebugMode {
			resp.Message = err.Error()
		}
		resp.TraceID = traceID
		c.JSON(http.StatusInternalServerError, resp)
	}
}

func traceIDFrom(c *gin.Context) string {
	if v, exists := c.Get("TraceID"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
