package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/convert"
	"github.com/fyerfyer/doc-assess-system/internal/document"
	"github.com/fyerfyer/doc-assess-system/internal/embedding"
	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/internal/repository"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/fyerfyer/doc-assess-system/pkg/storage"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// DocumentService 文档服务
// 负责协调文档转换、分块、向量化和入库
type DocumentService struct {
	storage       storage.Storage               // 文件存储服务
	converter     *convert.Converter            // 外部转换服务客户端（可选）
	chunker       *document.MarkdownChunker     // markdown分块器
	embedder      embedding.Client              // 嵌入模型客户端
	vectorDB      vectordb.Repository           // 向量数据库
	repo          repository.DocumentRepository // 文档元数据存储
	statusManager *DocumentStatusManager        // 文档状态管理器
	taskQueue     taskqueue.Queue               // 任务队列
	asyncEnabled  bool                          // 是否启用异步处理
	batchSize     int                           // 嵌入批处理大小
	maxWorkers    int                           // 嵌入并发批次数
	timeout       time.Duration                 // 处理超时时间
	logger        *logrus.Logger                // 日志记录器
}

// DocumentOption 文档服务配置选项
type DocumentOption func(*DocumentService)

// NewDocumentService 创建一个新的文档服务
func NewDocumentService(
	store storage.Storage,
	chunker *document.MarkdownChunker,
	embedder embedding.Client,
	vectorDB vectordb.Repository,
	opts ...DocumentOption,
) *DocumentService {
	srv := &DocumentService{
		storage:      store,
		chunker:      chunker,
		embedder:     embedder,
		vectorDB:     vectorDB,
		batchSize:    16,              // 默认批处理大小
		maxWorkers:   4,               // 默认并发批次数
		timeout:      time.Minute * 5, // 默认超时时间
		logger:       logrus.New(),    // 默认日志记录器
		asyncEnabled: false,           // 默认不启用异步处理
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithBatchSize 设置嵌入批处理大小
func WithBatchSize(size int) DocumentOption {
	return func(s *DocumentService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithMaxWorkers 设置嵌入并发批次数
func WithMaxWorkers(workers int) DocumentOption {
	return func(s *DocumentService) {
		if workers > 0 {
			s.maxWorkers = workers
		}
	}
}

// WithTimeout 设置处理超时时间
func WithTimeout(timeout time.Duration) DocumentOption {
	return func(s *DocumentService) {
		s.timeout = timeout
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) DocumentOption {
	return func(s *DocumentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDocumentRepository 设置文档仓储
func WithDocumentRepository(repo repository.DocumentRepository) DocumentOption {
	return func(s *DocumentService) {
		s.repo = repo
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *DocumentStatusManager) DocumentOption {
	return func(s *DocumentService) {
		s.statusManager = manager
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) DocumentOption {
	return func(s *DocumentService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithConverter 设置外部转换服务客户端
// 本地解析器不支持的格式会提交给转换服务
func WithConverter(converter *convert.Converter) DocumentOption {
	return func(s *DocumentService) {
		s.converter = converter
	}
}

// WithAsyncProcessing 设置是否启用异步处理
func WithAsyncProcessing(enabled bool) DocumentOption {
	return func(s *DocumentService) {
		s.asyncEnabled = enabled
	}
}

// Init 初始化文档服务
// 确保必要的依赖都已设置
func (s *DocumentService) Init() error {
	if s.repo == nil {
		s.repo = repository.NewDocumentRepository()
	}

	if s.statusManager == nil {
		s.statusManager = NewDocumentStatusManager(s.repo, s.logger)
	}

	return nil
}

// ProcessDocument 处理文档(转换、分块、向量化、入库)
func (s *DocumentService) ProcessDocument(ctx context.Context, fileID string, filePath string) error {
	if err := s.Init(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":   fileID,
		"file_path": filePath,
	}).Info("Starting document processing")

	if fileID == "" {
		return errors.New("fileID cannot be empty")
	}
	if filePath == "" {
		return errors.New("filePath cannot be empty")
	}

	// 如果启用异步处理并且任务队列已配置，使用任务队列处理
	if s.asyncEnabled && s.taskQueue != nil {
		return s.ProcessDocumentAsync(ctx, fileID, filePath)
	}

	return s.processDocumentSync(ctx, fileID, filePath)
}

// processDocumentSync 同步处理文档
// 直接在当前进程中完成全部流水线
func (s *DocumentService) processDocumentSync(ctx context.Context, fileID string, filePath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 更新文档状态为处理中
	if err := s.statusManager.MarkAsProcessing(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as processing")
		// 继续处理，不中断
	}

	// 转换/解析为markdown
	markdown, err := s.ExtractMarkdown(ctx, fileID, filePath)
	if err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to extract markdown: %v", err))
		return fmt.Errorf("failed to extract markdown: %w", err)
	}

	// 记录提取出的标题
	if title := document.ExtractTitle(markdown); title != "" {
		if doc, err := s.statusManager.GetDocument(ctx, fileID); err == nil {
			doc.Title = title
			if err := s.repo.Update(doc); err != nil {
				s.logger.WithError(err).Warn("Failed to save document title")
			}
		}
	}

	// 分块
	chunks := s.chunker.Chunk(markdown)
	if err := s.statusManager.UpdateProgress(ctx, fileID, 20); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 向量化并入库
	if err := s.EmbedAndStoreChunks(ctx, fileID, filePath, chunks); err != nil {
		s.failDocument(ctx, fileID, fmt.Sprintf("failed to embed chunks: %v", err))
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	// 文档处理完成，更新状态
	if err := s.statusManager.MarkAsCompleted(ctx, fileID, len(chunks)); err != nil {
		s.logger.WithError(err).Error("Failed to mark document as completed")
		// 虽然状态更新失败，但文档处理成功，所以不返回错误
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":     fileID,
		"chunk_count": len(chunks),
	}).Info("Document processing completed successfully")

	return nil
}

// ExtractMarkdown 将源文档转换为规范化的markdown文本
// 本地解析器支持的格式直接解析；其余格式提交给外部转换服务
func (s *DocumentService) ExtractMarkdown(ctx context.Context, fileID string, filePath string) (string, error) {
	s.logger.WithField("file_path", filePath).Debug("Extracting markdown")

	parser, err := document.ParserFactory(filePath)
	if err == nil {
		reader, gerr := s.openStoredFile(ctx, fileID, filePath)
		if gerr != nil {
			return "", fmt.Errorf("failed to get file from storage: %w", gerr)
		}
		defer reader.Close()

		content, perr := parser.ParseReader(reader, filePath)
		if perr != nil {
			return "", fmt.Errorf("failed to parse document: %w", perr)
		}
		return document.NormalizeMarkdown(content), nil
	}

	// 本地没有对应解析器，走外部转换服务
	if s.converter == nil {
		return "", fmt.Errorf("unsupported file type and no converter configured: %w", err)
	}

	localPath, err := s.resolveLocalPath(ctx, fileID, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve local file for conversion: %w", err)
	}

	markdown, err := s.converter.Convert(ctx, localPath)
	if err != nil {
		return "", fmt.Errorf("conversion service failed: %w", err)
	}

	return document.NormalizeMarkdown(markdown), nil
}

// EmbedAndStoreChunks 将分块向量化并写入向量数据库和元数据存储
func (s *DocumentService) EmbedAndStoreChunks(ctx context.Context, fileID string, filePath string, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	fileName := filepath.Base(filePath)

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	// 分批并发向量化
	processor := embedding.NewBatchProcessor(s.embedder, s.batchSize, s.maxWorkers)
	vectors, err := processor.Process(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if err := s.statusManager.UpdateProgress(ctx, fileID, 70); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	// 构建向量库分块和数据库分块记录
	vdbChunks := make([]vectordb.Chunk, len(chunks))
	dbChunks := make([]*models.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		chunkID := fmt.Sprintf("%s_%d", fileID, i)

		vdbChunks[i] = vectordb.Chunk{
			ID:           chunkID,
			DocumentID:   fileID,
			DocumentName: fileName,
			Position:     i,
			Text:         chunk.Text,
			Reason:       chunk.Reason,
			Vector:       vectors[i],
			CreatedAt:    time.Now(),
			Metadata: map[string]interface{}{
				"source": filePath,
			},
		}

		dbChunks[i] = &models.DocumentChunk{
			DocumentID: fileID,
			ChunkID:    chunkID,
			Position:   i,
			Text:       chunk.Text,
			Reason:     chunk.Reason,
			TokenCount: document.TokenCount(chunk.Text),
			VectorID:   chunkID,
		}
	}

	if err := s.vectorDB.AddBatch(vdbChunks); err != nil {
		return fmt.Errorf("failed to store vectors: %w", err)
	}

	if err := s.repo.SaveChunks(dbChunks); err != nil {
		s.logger.WithError(err).Error("Failed to save chunks to database")
		// 向量已入库，元数据写入失败不中断处理
	}

	if err := s.statusManager.UpdateProgress(ctx, fileID, 90); err != nil {
		s.logger.WithError(err).Warn("Failed to update document progress")
	}

	return nil
}

// openStoredFile 从存储打开文件内容
// 优先按文件ID查找，失败时尝试用路径作为ID
func (s *DocumentService) openStoredFile(ctx context.Context, fileID string, filePath string) (io.ReadCloser, error) {
	reader, err := s.storage.Get(ctx, fileID)
	if err == nil {
		return reader, nil
	}

	s.logger.WithError(err).Debug("Failed to get file by ID, trying with path")
	return s.storage.Get(ctx, filePath)
}

// resolveLocalPath 获取文件在本地磁盘上的路径
// 对象存储等无法直接寻址的实现会先下载到临时文件
func (s *DocumentService) resolveLocalPath(ctx context.Context, fileID string, filePath string) (string, error) {
	if resolver, ok := s.storage.(storage.PathResolver); ok {
		if path, err := resolver.LocalPath(fileID); err == nil {
			return path, nil
		}
	}

	reader, err := s.openStoredFile(ctx, fileID, filePath)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	tmp, err := os.CreateTemp("", "doc-assess-*"+filepath.Ext(filePath))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, reader); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}

	return tmp.Name(), nil
}

// DeleteDocument 删除文档及其相关数据
func (s *DocumentService) DeleteDocument(ctx context.Context, fileID string) error {
	if err := s.Init(); err != nil {
		return err
	}

	s.logger.WithField("file_id", fileID).Info("Deleting document")

	// 1. 从向量数据库中删除
	if err := s.vectorDB.DeleteByDocumentID(fileID); err != nil {
		s.logger.WithError(err).Error("Failed to delete document vectors")
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}

	// 2. 从存储中删除文件
	if err := s.storage.Delete(ctx, fileID); err != nil {
		// 文件可能已被删除，记录错误但不中断流程
		s.logger.WithError(err).Warn("Failed to delete file from storage")
	}

	// 3. 删除相关任务
	if s.taskQueue != nil {
		tasks, err := s.repo.GetDocumentTasks(ctx, fileID)
		if err == nil && len(tasks) > 0 {
			for _, task := range tasks {
				if err := s.repo.DeleteTask(ctx, task.ID); err != nil {
					s.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to delete document task")
				}
			}
		}
	}

	// 4. 删除文档状态记录（连带分块记录）
	if err := s.statusManager.DeleteDocument(ctx, fileID); err != nil {
		s.logger.WithError(err).Error("Failed to delete document status record")
		return fmt.Errorf("failed to delete document status record: %w", err)
	}

	s.logger.WithField("file_id", fileID).Info("Document deleted successfully")
	return nil
}

// GetDocumentInfo 获取文档信息
func (s *DocumentService) GetDocumentInfo(ctx context.Context, fileID string) (map[string]interface{}, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	doc, err := s.statusManager.GetDocument(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	info := map[string]interface{}{
		"file_id":     doc.ID,
		"filename":    doc.FileName,
		"status":      doc.Status,
		"created_at":  doc.UploadedAt.Format(time.RFC3339),
		"updated_at":  doc.UpdatedAt.Format(time.RFC3339),
		"size":        doc.FileSize,
		"progress":    doc.Progress,
		"chunk_count": doc.ChunkCount,
	}

	if doc.Title != "" {
		info["title"] = doc.Title
	}

	if doc.CurrentStage != "" {
		info["stage"] = doc.CurrentStage
	}

	if doc.Error != "" {
		info["error"] = doc.Error
	}

	if doc.ProcessedAt != nil {
		info["processed_at"] = doc.ProcessedAt.Format(time.RFC3339)
	}

	if doc.Tags != "" {
		info["tags"] = doc.Tags
	}

	// 如果启用了异步处理，尝试获取相关任务信息
	if s.asyncEnabled && s.taskQueue != nil {
		tasks, err := s.repo.GetDocumentTasks(ctx, fileID)
		if err == nil && len(tasks) > 0 {
			// 添加最近的任务信息
			latestTask := tasks[0]
			for _, task := range tasks {
				if task.UpdatedAt.After(latestTask.UpdatedAt) {
					latestTask = task
				}
			}

			info["task_id"] = latestTask.ID
			info["task_status"] = latestTask.Status
			info["task_created_at"] = latestTask.CreatedAt.Format(time.RFC3339)
			info["task_updated_at"] = latestTask.UpdatedAt.Format(time.RFC3339)

			if latestTask.StartedAt != nil {
				info["task_started_at"] = latestTask.StartedAt.Format(time.RFC3339)
			}
			if latestTask.CompletedAt != nil {
				info["task_completed_at"] = latestTask.CompletedAt.Format(time.RFC3339)
			}
			if latestTask.Error != "" {
				info["task_error"] = latestTask.Error
			}
		}
	}

	return info, nil
}

// GetDocumentStatus 获取文档处理状态
func (s *DocumentService) GetDocumentStatus(ctx context.Context, fileID string) (models.DocumentStatus, error) {
	if err := s.Init(); err != nil {
		return "", err
	}

	return s.statusManager.GetStatus(ctx, fileID)
}

// GetDocumentChunks 获取文档的全部分块记录
func (s *DocumentService) GetDocumentChunks(ctx context.Context, fileID string) ([]*models.DocumentChunk, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	return s.repo.GetChunks(fileID)
}

// CountDocumentChunks 统计文档分块数量
func (s *DocumentService) CountDocumentChunks(ctx context.Context, fileID string) (int, error) {
	if err := s.Init(); err != nil {
		return 0, err
	}

	return s.repo.CountChunks(fileID)
}

// WaitForDocumentProcessing 等待文档处理完成
func (s *DocumentService) WaitForDocumentProcessing(ctx context.Context, fileID string, timeout time.Duration) error {
	if err := s.Init(); err != nil {
		return err
	}

	if !s.asyncEnabled || s.taskQueue == nil {
		// 如果未启用异步处理，直接检查文档状态
		status, err := s.statusManager.GetStatus(ctx, fileID)
		if err != nil {
			return err
		}
		if status == models.DocStatusFailed {
			return fmt.Errorf("document processing failed")
		}
		if status != models.DocStatusCompleted {
			return fmt.Errorf("document not processed")
		}
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tasks, err := s.repo.GetDocumentTasks(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get document tasks: %w", err)
	}

	if len(tasks) == 0 {
		return fmt.Errorf("no processing tasks found for document %s", fileID)
	}

	// 找到最新的处理任务
	var latestTask *taskqueue.Task
	for _, task := range tasks {
		if task.Type == taskqueue.TaskProcessComplete {
			if latestTask == nil || task.CreatedAt.After(latestTask.CreatedAt) {
				latestTask = task
			}
		}
	}

	if latestTask == nil {
		return fmt.Errorf("no complete processing task found for document %s", fileID)
	}

	// 等待任务完成
	_, err = s.taskQueue.WaitForTask(ctx, latestTask.ID, timeout)
	if err != nil {
		return fmt.Errorf("failed to wait for document processing: %w", err)
	}

	// 再次检查文档状态
	status, err := s.statusManager.GetStatus(ctx, fileID)
	if err != nil {
		return err
	}

	if status == models.DocStatusFailed {
		return fmt.Errorf("document processing failed")
	}

	if status != models.DocStatusCompleted {
		return fmt.Errorf("document processing incomplete")
	}

	return nil
}

// ListDocuments 获取文档列表
func (s *DocumentService) ListDocuments(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Document, int64, error) {
	if err := s.Init(); err != nil {
		return nil, 0, err
	}

	return s.statusManager.ListDocuments(ctx, offset, limit, filters)
}

// UpdateDocumentTags 更新文档标签
func (s *DocumentService) UpdateDocumentTags(ctx context.Context, fileID string, tags string) error {
	if err := s.Init(); err != nil {
		return err
	}

	doc, err := s.statusManager.GetDocument(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	doc.Tags = tags
	return s.repo.Update(doc)
}

// failDocument 将文档标记为失败状态
func (s *DocumentService) failDocument(ctx context.Context, fileID string, errorMsg string) {
	if s.statusManager == nil {
		s.logger.Error("Cannot mark document as failed: status manager not initialized")
		return
	}

	if err := s.statusManager.MarkAsFailed(ctx, fileID, errorMsg); err != nil {
		s.logger.WithFields(logrus.Fields{
			"file_id": fileID,
			"error":   err,
		}).Error("Failed to mark document as failed")
	}
}

// GetStatusManager 返回文档状态管理器实例
func (s *DocumentService) GetStatusManager() *DocumentStatusManager {
	return s.statusManager
}

// GetTaskQueue 返回任务队列实例
func (s *DocumentService) GetTaskQueue() taskqueue.Queue {
	return s.taskQueue
}
