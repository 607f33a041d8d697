package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/database"
	"github.com/fyerfyer/doc-assess-system/internal/repository"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// AsyncDocumentOptions 异步文档处理的选项
type AsyncDocumentOptions struct {
	SoftLimit int               // 分块软上限（token数）
	HardLimit int               // 分块硬上限（token数）
	Model     string            // 嵌入模型
	Metadata  map[string]string // 元数据
	Priority  string            // 任务优先级
}

// DefaultAsyncOptions 返回默认的异步处理选项
func DefaultAsyncOptions() *AsyncDocumentOptions {
	return &AsyncDocumentOptions{
		SoftLimit: 300,
		HardLimit: 800,
		Model:     "default",
		Priority:  "default",
		Metadata:  make(map[string]string), // 初始化一个空map，避免nil错误
	}
}

// AsyncOption 异步选项函数类型
type AsyncOption func(*AsyncDocumentOptions)

// WithSoftLimit 设置分块软上限
func WithSoftLimit(limit int) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.SoftLimit = limit
	}
}

// WithHardLimit 设置分块硬上限
func WithHardLimit(limit int) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.HardLimit = limit
	}
}

// WithEmbeddingModel 设置嵌入模型
func WithEmbeddingModel(model string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Model = model
	}
}

// WithMetadata 设置元数据
func WithMetadata(metadata map[string]string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Metadata = metadata
	}
}

// WithPriority 设置任务优先级
func WithPriority(priority string) AsyncOption {
	return func(o *AsyncDocumentOptions) {
		o.Priority = priority
	}
}

// EnableAsyncProcessing 启用异步处理
func (s *DocumentService) EnableAsyncProcessing(queue taskqueue.Queue) {
	s.asyncEnabled = true
	s.taskQueue = queue

	// 确保重要依赖已设置
	if s.statusManager == nil {
		s.logger.Warn("Status manager not set, creating default one")
		if s.repo == nil {
			s.repo = repository.NewDocumentRepository()
		}
		s.statusManager = NewDocumentStatusManager(s.repo, s.logger)
	}

	// 使用已有的数据库和新的队列重建仓储
	s.repo = repository.NewDocumentRepositoryWithQueue(database.DB, queue)

	// 注册任务回调处理器
	s.registerTaskHandlers()

	s.logger.Info("Async document processing enabled")
}

// DisableAsyncProcessing 禁用异步处理
func (s *DocumentService) DisableAsyncProcessing() {
	s.asyncEnabled = false
	s.logger.Info("Async document processing disabled")
}

// ProcessDocumentAsync 异步处理文档
// 将完整入库流程任务加入队列并立即返回
func (s *DocumentService) ProcessDocumentAsync(ctx context.Context, fileID string, filePath string, opts ...AsyncOption) error {
	if err := s.Init(); err != nil {
		return err
	}

	options := DefaultAsyncOptions()
	for _, opt := range opts {
		opt(options)
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":   fileID,
		"file_path": filePath,
	}).Info("Enqueuing document for async processing")

	if !s.asyncEnabled || s.taskQueue == nil {
		return fmt.Errorf("async processing not enabled or task queue not configured")
	}

	// 更新文档状态为处理中
	if err := s.statusManager.MarkAsProcessing(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as processing")
		return fmt.Errorf("failed to update document status: %w", err)
	}

	fileName := filepath.Base(filePath)
	fileType := strings.TrimPrefix(filepath.Ext(fileName), ".")

	payload := taskqueue.ProcessCompletePayload{
		DocumentID: fileID,
		FilePath:   filePath,
		FileName:   fileName,
		FileType:   fileType,
		SoftLimit:  options.SoftLimit,
		HardLimit:  options.HardLimit,
		Model:      options.Model,
		Metadata:   options.Metadata,
	}

	taskID, err := s.repo.CreateTask(ctx, taskqueue.TaskProcessComplete, fileID, payload)
	if err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to create processing task: %v", err))
		return fmt.Errorf("failed to create processing task: %w", err)
	}

	if err := s.statusManager.MarkStage(ctx, fileID, "", taskID); err != nil {
		s.logger.WithError(err).Warn("Failed to record task on document")
	}

	s.logger.WithFields(logrus.Fields{
		"file_id": fileID,
		"task_id": taskID,
	}).Info("Document processing task created successfully")

	return nil
}

// registerTaskHandlers 在共享回调处理器上注册任务回调
// 回调来自外部转换服务或worker的状态通知
func (s *DocumentService) registerTaskHandlers() {
	if s.taskQueue == nil {
		s.logger.Warn("Task queue not available, cannot register handlers")
		return
	}

	processor := taskqueue.GetSharedCallbackProcessor(s.taskQueue, s.logger)

	processor.RegisterHandler(taskqueue.TaskDocumentConvert, s.handleDocumentConvertResult)
	processor.RegisterHandler(taskqueue.TaskDocumentParse, s.handleDocumentParseResult)
	processor.RegisterHandler(taskqueue.TaskTextChunk, s.handleTextChunkResult)
	processor.RegisterHandler(taskqueue.TaskEmbed, s.handleEmbedResult)
	processor.RegisterHandler(taskqueue.TaskProcessComplete, s.handleProcessCompleteResult)

	s.logger.Info("Registered document task handlers")
}

// handleDocumentConvertResult 处理外部转换任务结果
// 转换成功后创建分块任务
func (s *DocumentService) handleDocumentConvertResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling document convert result")

	var convertResult taskqueue.DocumentConvertResult
	if err := json.Unmarshal(result, &convertResult); err != nil {
		return fmt.Errorf("failed to unmarshal document convert result: %w", err)
	}

	if convertResult.Error != "" {
		_ = s.statusManager.MarkAsFailed(ctx, task.DocumentID, convertResult.Error)
		return fmt.Errorf("document conversion failed: %s", convertResult.Error)
	}

	if convertResult.Markdown == "" {
		err := fmt.Errorf("empty conversion output")
		_ = s.statusManager.MarkAsFailed(ctx, task.DocumentID, err.Error())
		return err
	}

	if err := s.statusManager.UpdateProgress(ctx, task.DocumentID, 30); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 转换完成，进入分块阶段
	cfg := s.chunker.Config()
	chunkPayload := taskqueue.TextChunkPayload{
		DocumentID: task.DocumentID,
		Content:    convertResult.Markdown,
		SoftLimit:  cfg.SoftLimit,
		HardLimit:  cfg.HardLimit,
	}

	if _, err := s.repo.CreateTask(ctx, taskqueue.TaskTextChunk, task.DocumentID, chunkPayload); err != nil {
		return fmt.Errorf("failed to create chunk task: %w", err)
	}

	return nil
}

// handleDocumentParseResult 处理文档解析任务结果
func (s *DocumentService) handleDocumentParseResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling document parse result")

	var parseResult taskqueue.DocumentParseResult
	if err := json.Unmarshal(result, &parseResult); err != nil {
		return fmt.Errorf("failed to unmarshal document parse result: %w", err)
	}

	if err := s.statusManager.UpdateProgress(ctx, task.DocumentID, 30); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	if parseResult.Content == "" {
		err := fmt.Errorf("empty document content")
		_ = s.statusManager.MarkAsFailed(ctx, task.DocumentID, err.Error())
		return err
	}

	return nil
}

// handleTextChunkResult 处理文本分块任务结果
func (s *DocumentService) handleTextChunkResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling text chunk result")

	var chunkResult taskqueue.TextChunkResult
	if err := json.Unmarshal(result, &chunkResult); err != nil {
		return fmt.Errorf("failed to unmarshal text chunk result: %w", err)
	}

	if err := s.statusManager.UpdateProgress(ctx, task.DocumentID, 60); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	return nil
}

// handleEmbedResult 处理向量化任务结果
// 向量化是入库流程的最后一步
func (s *DocumentService) handleEmbedResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling embed result")

	var embedResult taskqueue.EmbedResult
	if err := json.Unmarshal(result, &embedResult); err != nil {
		return fmt.Errorf("failed to unmarshal embed result: %w", err)
	}

	if embedResult.Error != "" {
		_ = s.statusManager.MarkAsFailed(ctx, task.DocumentID, embedResult.Error)
		return fmt.Errorf("embedding failed: %s", embedResult.Error)
	}

	// 将向量数据保存到向量数据库
	if len(embedResult.Vectors) > 0 {
		if err := s.saveVectorsToDatabase(ctx, task.DocumentID, &embedResult); err != nil {
			s.logger.WithError(err).Error("Failed to save vectors to database")
			return err
		}
	}

	// 更新文档完成状态
	if err := s.statusManager.MarkAsCompleted(ctx, task.DocumentID, embedResult.VectorCount); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as completed")
		return err
	}

	return nil
}

// handleProcessCompleteResult 处理完整流程任务结果
func (s *DocumentService) handleProcessCompleteResult(ctx context.Context, task *taskqueue.Task, result json.RawMessage) error {
	s.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": task.DocumentID,
	}).Info("Handling process complete result")

	var completeResult taskqueue.ProcessCompleteResult
	if err := json.Unmarshal(result, &completeResult); err != nil {
		return fmt.Errorf("failed to unmarshal process complete result: %w", err)
	}

	if completeResult.Error != "" {
		s.logger.WithFields(logrus.Fields{
			"document_id": task.DocumentID,
			"error":       completeResult.Error,
		}).Error("Document processing failed")

		if err := s.statusManager.MarkAsFailed(ctx, task.DocumentID, completeResult.Error); err != nil {
			s.logger.WithError(err).Error("Failed to mark document as failed")
		}
		return fmt.Errorf("document processing failed: %s", completeResult.Error)
	}

	// 解析和分块都成功时标记文档完成；向量化失败仅告警
	if completeResult.ParseStatus == "completed" && completeResult.ChunkStatus == "completed" {
		if err := s.statusManager.MarkAsCompleted(ctx, task.DocumentID, completeResult.ChunkCount); err != nil {
			s.logger.WithError(err).Error("Failed to mark document as completed")
			return err
		}

		if completeResult.EmbedStatus == "failed" {
			s.logger.WithField("document_id", task.DocumentID).Warn(
				"Document marked as completed but embedding failed. Search functionality may be limited.")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"document_id":  task.DocumentID,
		"chunk_count":  completeResult.ChunkCount,
		"vector_count": completeResult.VectorCount,
	}).Info("Document processing completed successfully")

	return nil
}

// saveVectorsToDatabase 将向量保存到向量数据库
// 分块文本和形成原因从数据库分块记录回填
func (s *DocumentService) saveVectorsToDatabase(ctx context.Context, documentID string, result *taskqueue.EmbedResult) error {
	doc, err := s.statusManager.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to get document info: %w", err)
	}

	// 分块记录按位置索引，用于补充向量之外的文本信息
	chunkByPosition := make(map[int]string)
	reasonByPosition := make(map[int]string)
	if dbChunks, err := s.repo.GetChunks(documentID); err == nil {
		for _, c := range dbChunks {
			chunkByPosition[c.Position] = c.Text
			reasonByPosition[c.Position] = c.Reason
		}
	}

	chunks := make([]vectordb.Chunk, 0, len(result.Vectors))
	for _, vector := range result.Vectors {
		if vector.ChunkIndex < 0 || len(vector.Vector) == 0 {
			s.logger.WithFields(logrus.Fields{
				"chunk_index": vector.ChunkIndex,
				"document_id": documentID,
			}).Warn("Invalid vector data, skipping")
			continue
		}

		chunks = append(chunks, vectordb.Chunk{
			ID:           fmt.Sprintf("%s_%d", documentID, vector.ChunkIndex),
			DocumentID:   documentID,
			DocumentName: doc.FileName,
			Position:     vector.ChunkIndex,
			Text:         chunkByPosition[vector.ChunkIndex],
			Reason:       reasonByPosition[vector.ChunkIndex],
			Vector:       vector.Vector,
			CreatedAt:    time.Now(),
			Metadata: map[string]interface{}{
				"file_type": doc.FileType,
			},
		})
	}

	if len(chunks) > 0 {
		if err := s.vectorDB.AddBatch(chunks); err != nil {
			return fmt.Errorf("failed to add vectors to database: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"document_id":  documentID,
			"vector_count": len(chunks),
		}).Info("Vectors saved to database")
	}

	return nil
}

// WaitForTaskResult 等待任务完成并返回结果
func (s *DocumentService) WaitForTaskResult(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, fmt.Errorf("async processing not enabled or task queue not configured")
	}

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	task, err := s.taskQueue.WaitForTask(ctx, taskID, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task: %w", err)
	}

	if task.Status == taskqueue.StatusFailed {
		return task, fmt.Errorf("task failed: %s", task.Error)
	}

	return task, nil
}

// GetDocumentTasks 获取文档相关的任务列表
func (s *DocumentService) GetDocumentTasks(ctx context.Context, documentID string) ([]*taskqueue.Task, error) {
	if !s.asyncEnabled || s.taskQueue == nil {
		return nil, fmt.Errorf("async processing not enabled or task queue not configured")
	}

	return s.taskQueue.GetTasksByDocument(ctx, documentID)
}
