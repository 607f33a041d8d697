package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fyerfyer/doc-assess-system/api/middleware"
	"github.com/fyerfyer/doc-assess-system/api/model"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 提供异步任务的查询和回调入口
type TaskHandler struct {
	queue     taskqueue.Queue
	processor *taskqueue.CallbackProcessor
	logger    *logrus.Logger
}

// NewTaskHandler 创建任务处理器
// 回调处理函数由文档服务在启用异步处理时注册
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	logger := middleware.GetLogger()
	return &TaskHandler{
		queue:     queue,
		processor: taskqueue.GetSharedCallbackProcessor(queue, logger),
		logger:    logger,
	}
}

// taskView 把任务转换为对外的JSON结构
// 结果字段仅在能解析为JSON对象时返回
func taskView(task *taskqueue.Task, withDocumentID bool) map[string]interface{} {
	view := map[string]interface{}{
		"id":         task.ID,
		"type":       string(task.Type),
		"status":     string(task.Status),
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	if withDocumentID {
		view["document_id"] = task.DocumentID
	}
	if task.Error != "" {
		view["error"] = task.Error
	}
	if len(task.Result) > 0 {
		var result map[string]interface{}
		if err := json.Unmarshal(task.Result, &result); err == nil {
			view["result"] = result
		}
	}
	return view
}

// HandleCallback 接收外部服务的任务回调
// POST /api/tasks/callback
func (h *TaskHandler) HandleCallback(c *gin.Context) {
	var req taskqueue.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest, "无效的回调请求"))
		return
	}
	if req.TaskID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest, "任务ID不能为空"))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":     req.TaskID,
		"document_id": req.DocumentID,
		"status":      req.Status,
	}).Info("Received task callback")

	if _, registered := h.processor.GetRegisteredHandlerTypes()[req.Type]; !registered {
		h.logger.WithField("task_type", req.Type).Warn("No handler registered for callback task type")
	}

	resp, err := h.processor.HandleCallback(c.Request.Context(), &req)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("处理回调失败", err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetTaskStatus 查询单个任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest, "任务ID不能为空"))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("任务未找到"))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("获取任务状态失败", err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskView(task, true)))
}

// GetDocumentTasks 查询文档关联的全部任务
// GET /api/documents/:id/tasks
func (h *TaskHandler) GetDocumentTasks(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest, "文档ID不能为空"))
		return
	}

	tasks, err := h.queue.GetTasksByDocument(c.Request.Context(), documentID)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("获取文档任务列表失败", err))
		return
	}

	views := make([]map[string]interface{}, len(tasks))
	for i, task := range tasks {
		views[i] = taskView(task, false)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"document_id": documentID,
		"tasks":       views,
	}))
}
