package services

import (
	"context"
	"fmt"

	"github.com/fyerfyer/doc-assess-system/internal/document"
	"github.com/fyerfyer/doc-assess-system/internal/embedding"
	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// PipelineTaskHandler 文档入库流水线的任务处理器
// 在worker进程中执行解析、分块、向量化等任务
type PipelineTaskHandler struct {
	svc    *DocumentService
	queue  taskqueue.Queue
	logger *logrus.Logger
}

// NewPipelineTaskHandler 创建流水线任务处理器
func NewPipelineTaskHandler(svc *DocumentService, queue taskqueue.Queue, logger *logrus.Logger) *PipelineTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}

	return &PipelineTaskHandler{
		svc:    svc,
		queue:  queue,
		logger: logger,
	}
}

// GetTaskTypes 返回处理器支持的任务类型
func (h *PipelineTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{
		taskqueue.TaskDocumentConvert,
		taskqueue.TaskDocumentParse,
		taskqueue.TaskTextChunk,
		taskqueue.TaskEmbed,
		taskqueue.TaskProcessComplete,
	}
}

// ProcessTask 执行任务
// 结果通过UpdateTaskStatus写回，供回调处理器和状态查询使用
func (h *PipelineTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	h.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": task.Type,
	}).Info("Processing pipeline task")

	switch task.Type {
	case taskqueue.TaskDocumentConvert:
		return h.processConvert(ctx, task)
	case taskqueue.TaskDocumentParse:
		return h.processParse(ctx, task)
	case taskqueue.TaskTextChunk:
		return h.processChunk(ctx, task)
	case taskqueue.TaskEmbed:
		return h.processEmbed(ctx, task)
	case taskqueue.TaskProcessComplete:
		return h.processComplete(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

// processConvert 执行文档转换任务
func (h *PipelineTaskHandler) processConvert(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.DocumentConvertPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal convert payload: %w", err)
	}

	markdown, err := h.svc.ExtractMarkdown(ctx, task.DocumentID, payload.FilePath)
	if err != nil {
		h.svc.failDocument(ctx, task.DocumentID, fmt.Sprintf("document conversion failed: %v", err))
		return fmt.Errorf("failed to convert document: %w", err)
	}

	result := taskqueue.DocumentConvertResult{
		Markdown: markdown,
		Title:    document.ExtractTitle(markdown),
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to store convert result")
	}

	// 转换完成后直接进入分块阶段
	return h.enqueueChunkTask(ctx, task.DocumentID, markdown, 0, 0)
}

// processParse 执行文档解析任务
func (h *PipelineTaskHandler) processParse(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.DocumentParsePayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal parse payload: %w", err)
	}

	content, err := h.svc.ExtractMarkdown(ctx, task.DocumentID, payload.FilePath)
	if err != nil {
		h.svc.failDocument(ctx, task.DocumentID, fmt.Sprintf("document parsing failed: %v", err))
		return fmt.Errorf("failed to parse document: %w", err)
	}

	result := taskqueue.DocumentParseResult{
		Content: content,
		Title:   document.ExtractTitle(content),
		Chars:   len(content),
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to store parse result")
	}

	return h.enqueueChunkTask(ctx, task.DocumentID, content, 0, 0)
}

// processChunk 执行文本分块任务
// 分块记录写入数据库，向量化任务接续执行
func (h *PipelineTaskHandler) processChunk(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.TextChunkPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal chunk payload: %w", err)
	}

	if payload.Content == "" {
		h.svc.failDocument(ctx, task.DocumentID, "empty document content")
		return fmt.Errorf("empty document content")
	}

	chunker := h.chunkerFor(payload.SoftLimit, payload.HardLimit)
	chunks := chunker.Chunk(payload.Content)

	// 分块记录先落库，向量化完成后回填向量ID
	dbChunks := make([]*models.DocumentChunk, 0, len(chunks))
	chunkInfos := make([]taskqueue.ChunkInfo, 0, len(chunks))
	for i, chunk := range chunks {
		dbChunks = append(dbChunks, &models.DocumentChunk{
			ChunkID:    fmt.Sprintf("%s_%d", task.DocumentID, i),
			DocumentID: task.DocumentID,
			Position:   i,
			Text:       chunk.Text,
			Reason:     chunk.Reason,
			TokenCount: document.TokenCount(chunk.Text),
		})
		chunkInfos = append(chunkInfos, taskqueue.ChunkInfo{
			Text:   chunk.Text,
			Index:  i,
			Reason: chunk.Reason,
		})
	}

	if h.svc.repo != nil {
		if err := h.svc.repo.SaveChunks(dbChunks); err != nil {
			h.logger.WithError(err).Warn("Failed to save chunk records")
		}
	}

	result := taskqueue.TextChunkResult{
		DocumentID: task.DocumentID,
		Chunks:     chunkInfos,
		ChunkCount: len(chunkInfos),
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to store chunk result")
	}

	embedPayload := taskqueue.EmbedPayload{
		DocumentID: task.DocumentID,
		Chunks:     chunkInfos,
		Model:      h.svc.embedder.Name(),
	}
	if _, err := h.queue.Enqueue(ctx, taskqueue.TaskEmbed, task.DocumentID, embedPayload); err != nil {
		return fmt.Errorf("failed to enqueue embed task: %w", err)
	}

	return nil
}

// processEmbed 执行向量化任务
func (h *PipelineTaskHandler) processEmbed(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.EmbedPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal embed payload: %w", err)
	}

	if len(payload.Chunks) == 0 {
		return fmt.Errorf("no chunks to embed")
	}

	texts := make([]string, len(payload.Chunks))
	for i, chunk := range payload.Chunks {
		texts[i] = chunk.Text
	}

	processor := embedding.NewBatchProcessor(h.svc.embedder, h.svc.batchSize, h.svc.maxWorkers)
	vectors, err := processor.Process(ctx, texts)
	if err != nil {
		h.svc.failDocument(ctx, task.DocumentID, fmt.Sprintf("embedding failed: %v", err))
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	vectorInfos := make([]taskqueue.VectorInfo, 0, len(vectors))
	dimension := 0
	for i, vector := range vectors {
		if len(vector) > 0 {
			dimension = len(vector)
		}
		vectorInfos = append(vectorInfos, taskqueue.VectorInfo{
			ChunkIndex: payload.Chunks[i].Index,
			Vector:     vector,
		})
	}

	result := taskqueue.EmbedResult{
		DocumentID:  task.DocumentID,
		Vectors:     vectorInfos,
		VectorCount: len(vectorInfos),
		Model:       h.svc.embedder.Name(),
		Dimension:   dimension,
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to store embed result")
	}

	// 向量入库和文档完成状态由回调处理器负责
	return nil
}

// processComplete 执行完整的文档入库流程
// 解析、分块、向量化在同一任务内顺序完成
func (h *PipelineTaskHandler) processComplete(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.ProcessCompletePayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal process complete payload: %w", err)
	}

	result := taskqueue.ProcessCompleteResult{
		DocumentID:  task.DocumentID,
		ParseStatus: "failed",
		ChunkStatus: "failed",
		EmbedStatus: "failed",
	}

	fail := func(stage string, err error) error {
		result.Error = fmt.Sprintf("%s: %v", stage, err)
		if updateErr := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); updateErr != nil {
			h.logger.WithError(updateErr).Warn("Failed to store process result")
		}
		h.svc.failDocument(ctx, task.DocumentID, result.Error)
		return fmt.Errorf("%s: %w", stage, err)
	}

	markdown, err := h.svc.ExtractMarkdown(ctx, task.DocumentID, payload.FilePath)
	if err != nil {
		return fail("failed to parse document", err)
	}
	result.ParseStatus = "completed"

	if title := document.ExtractTitle(markdown); title != "" {
		if doc, err := h.svc.statusManager.GetDocument(ctx, task.DocumentID); err == nil {
			doc.Title = title
			if err := h.svc.repo.Update(doc); err != nil {
				h.logger.WithError(err).Warn("Failed to save document title")
			}
		}
	}

	if err := h.svc.statusManager.UpdateProgress(ctx, task.DocumentID, 20); err != nil {
		h.logger.WithError(err).Warn("Failed to update document progress")
	}

	chunker := h.chunkerFor(payload.SoftLimit, payload.HardLimit)
	chunks := chunker.Chunk(markdown)
	if len(chunks) == 0 {
		return fail("failed to chunk document", fmt.Errorf("no chunks produced"))
	}
	result.ChunkStatus = "completed"
	result.ChunkCount = len(chunks)

	if err := h.svc.EmbedAndStoreChunks(ctx, task.DocumentID, payload.FilePath, chunks); err != nil {
		return fail("failed to embed chunks", err)
	}
	result.EmbedStatus = "completed"
	result.VectorCount = len(chunks)
	result.Dimension = h.svc.vectorDB.GetDimension()

	if err := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to store process result")
	}

	if err := h.svc.statusManager.MarkAsCompleted(ctx, task.DocumentID, len(chunks)); err != nil {
		h.logger.WithError(err).Error("Failed to mark document as completed")
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"document_id": task.DocumentID,
		"chunk_count": len(chunks),
	}).Info("Document pipeline completed")

	return nil
}

// enqueueChunkTask 创建分块任务
func (h *PipelineTaskHandler) enqueueChunkTask(ctx context.Context, documentID string, content string, softLimit, hardLimit int) error {
	cfg := h.svc.chunker.Config()
	if softLimit <= 0 {
		softLimit = cfg.SoftLimit
	}
	if hardLimit <= 0 {
		hardLimit = cfg.HardLimit
	}

	payload := taskqueue.TextChunkPayload{
		DocumentID: documentID,
		Content:    content,
		SoftLimit:  softLimit,
		HardLimit:  hardLimit,
	}

	if _, err := h.queue.Enqueue(ctx, taskqueue.TaskTextChunk, documentID, payload); err != nil {
		return fmt.Errorf("failed to enqueue chunk task: %w", err)
	}

	return nil
}

// chunkerFor 按载荷指定的限制构造分块器
// 载荷未指定时沿用服务配置的分块器
func (h *PipelineTaskHandler) chunkerFor(softLimit, hardLimit int) *document.MarkdownChunker {
	cfg := h.svc.chunker.Config()
	if softLimit <= 0 && hardLimit <= 0 {
		return h.svc.chunker
	}

	if softLimit > 0 {
		cfg.SoftLimit = softLimit
	}
	if hardLimit > 0 {
		cfg.HardLimit = hardLimit
	}
	return document.NewMarkdownChunker(cfg)
}
