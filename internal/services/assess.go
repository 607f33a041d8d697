package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/cache"
	"github.com/fyerfyer/doc-assess-system/internal/embedding"
	"github.com/fyerfyer/doc-assess-system/internal/llm"
	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/internal/prompt"
	"github.com/fyerfyer/doc-assess-system/internal/repository"
	"github.com/fyerfyer/doc-assess-system/internal/spreadsheet"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

// AssessmentService 工作簿评估服务
// 逐行读取评估要求，检索知识库上下文，由大模型评分并把结论写回工作簿
type AssessmentService struct {
	repo      repository.AssessmentRepository
	embedder  embedding.Client
	vectorDB  vectordb.Repository
	grader    *llm.Grader
	promptCfg *prompt.Config
	cache     cache.Cache
	taskQueue taskqueue.Queue

	asyncEnabled bool
	maxWorkers   int           // 并发评估的单元格数
	topK         int           // 每个单元格检索的分块数
	minScore     float32       // 检索结果的最小相似度
	cacheTTL     time.Duration // 评估结果和向量的缓存时间
	resultDir    string        // 结果工作簿输出目录，空时与源文件同目录

	logger *logrus.Logger
}

// AssessmentOption 评估服务配置选项函数类型
type AssessmentOption func(*AssessmentService)

// WithAssessmentLogger 设置日志记录器
func WithAssessmentLogger(logger *logrus.Logger) AssessmentOption {
	return func(s *AssessmentService) {
		s.logger = logger
	}
}

// WithAssessmentCache 设置缓存
func WithAssessmentCache(c cache.Cache) AssessmentOption {
	return func(s *AssessmentService) {
		s.cache = c
	}
}

// WithAssessmentQueue 设置任务队列并启用异步评估
func WithAssessmentQueue(queue taskqueue.Queue) AssessmentOption {
	return func(s *AssessmentService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithAssessmentWorkers 设置并发评估的单元格数
func WithAssessmentWorkers(workers int) AssessmentOption {
	return func(s *AssessmentService) {
		if workers > 0 {
			s.maxWorkers = workers
		}
	}
}

// WithTopK 设置每个单元格检索的分块数
func WithTopK(topK int) AssessmentOption {
	return func(s *AssessmentService) {
		if topK > 0 {
			s.topK = topK
		}
	}
}

// WithMinScore 设置检索结果的最小相似度
func WithMinScore(score float32) AssessmentOption {
	return func(s *AssessmentService) {
		s.minScore = score
	}
}

// WithResultDir 设置结果工作簿输出目录
func WithResultDir(dir string) AssessmentOption {
	return func(s *AssessmentService) {
		s.resultDir = dir
	}
}

// WithAssessmentCacheTTL 设置缓存时间
func WithAssessmentCacheTTL(ttl time.Duration) AssessmentOption {
	return func(s *AssessmentService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// NewAssessmentService 创建评估服务
func NewAssessmentService(
	repo repository.AssessmentRepository,
	embedder embedding.Client,
	vectorDB vectordb.Repository,
	grader *llm.Grader,
	promptCfg *prompt.Config,
	opts ...AssessmentOption,
) *AssessmentService {
	svc := &AssessmentService{
		repo:       repo,
		embedder:   embedder,
		vectorDB:   vectorDB,
		grader:     grader,
		promptCfg:  promptCfg,
		maxWorkers: 4,
		topK:       5,
		cacheTTL:   24 * time.Hour,
		logger:     logrus.New(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.promptCfg != nil {
		grader.SetSystemPrompt(svc.promptCfg.FullSystemPrompt())
	}

	return svc
}

// CreateAssessmentRequest 创建评估任务的请求
type CreateAssessmentRequest struct {
	WorkbookPath string            // 工作簿文件路径
	SheetName    string            // 工作表名，空表示第一个工作表
	QueryColumn  string            // 评估要求所在列
	AnswerColumn string            // 评估结果写入列，表头不存在时自动追加
	DocumentIDs  []string          // 限定检索的文档ID列表，空表示全库
	Metadata     map[string]string // 附加元数据
}

// CreateAssessment 创建评估任务
// 打开工作簿校验列配置并统计待评估单元格数，不执行评估
func (s *AssessmentService) CreateAssessment(ctx context.Context, req *CreateAssessmentRequest) (*models.Assessment, error) {
	if req == nil || req.WorkbookPath == "" {
		return nil, fmt.Errorf("workbook path cannot be empty")
	}
	if req.QueryColumn == "" || req.AnswerColumn == "" {
		return nil, fmt.Errorf("query column and answer column must be specified")
	}

	f, err := excelize.OpenFile(req.WorkbookPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet, err := s.resolveSheet(f, req.SheetName)
	if err != nil {
		return nil, err
	}

	headers, err := spreadsheet.HeaderRow(f, sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	queryIdx := spreadsheet.ColumnIndex(headers, req.QueryColumn)
	if queryIdx < 0 {
		return nil, fmt.Errorf("query column %q not found in sheet %s", req.QueryColumn, sheet)
	}

	// 统计表头以下非空的评估要求单元格
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet rows: %w", err)
	}

	total := 0
	for i := 1; i < len(rows); i++ {
		if queryIdx < len(rows[i]) && strings.TrimSpace(rows[i][queryIdx]) != "" {
			total++
		}
	}

	assessment := &models.Assessment{
		WorkbookName: filepath.Base(req.WorkbookPath),
		WorkbookPath: req.WorkbookPath,
		SheetName:    sheet,
		QueryColumn:  req.QueryColumn,
		AnswerColumn: req.AnswerColumn,
		Status:       models.AssessStatusPending,
		TotalCells:   total,
		ModelName:    s.grader.Client.Name(),
	}

	if len(req.DocumentIDs) > 0 {
		data, err := json.Marshal(req.DocumentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document ids: %w", err)
		}
		assessment.DocumentIDs = datatypes.JSON(data)
	}

	if len(req.Metadata) > 0 {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		assessment.Metadata = datatypes.JSON(data)
	}

	if err := s.repo.WithContext(ctx).CreateAssessment(assessment); err != nil {
		return nil, fmt.Errorf("failed to create assessment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"assessment_id": assessment.ID,
		"workbook":      assessment.WorkbookName,
		"total_cells":   total,
	}).Info("Assessment created")

	return assessment, nil
}

// RunAssessment 执行评估任务
// 异步模式下加入队列立即返回，否则同步执行
func (s *AssessmentService) RunAssessment(ctx context.Context, assessmentID string) error {
	assessment, err := s.repo.WithContext(ctx).GetAssessment(assessmentID)
	if err != nil {
		return err
	}

	if assessment.Status == models.AssessStatusRunning {
		return fmt.Errorf("assessment %s is already running", assessmentID)
	}

	if s.asyncEnabled {
		payload := taskqueue.AssessmentPayload{
			AssessmentID: assessment.ID,
			WorkbookPath: assessment.WorkbookPath,
			SheetName:    assessment.SheetName,
		}
		if _, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskAssessment, assessment.ID, payload); err != nil {
			return fmt.Errorf("failed to enqueue assessment task: %w", err)
		}

		s.logger.WithField("assessment_id", assessment.ID).Info("Assessment task enqueued")
		return nil
	}

	return s.Run(ctx, assessmentID)
}

// Run 同步执行评估
// 逐行评估工作簿中的单元格并把结论写回答案列，结束后保存结果工作簿
func (s *AssessmentService) Run(ctx context.Context, assessmentID string) error {
	repo := s.repo.WithContext(ctx)

	assessment, err := repo.GetAssessment(assessmentID)
	if err != nil {
		return err
	}

	if err := repo.UpdateAssessmentStatus(assessmentID, models.AssessStatusRunning, ""); err != nil {
		return fmt.Errorf("failed to mark assessment as running: %w", err)
	}

	if err := s.runWorkbook(ctx, assessment); err != nil {
		if updateErr := repo.UpdateAssessmentStatus(assessmentID, models.AssessStatusFailed, err.Error()); updateErr != nil {
			s.logger.WithError(updateErr).Error("Failed to mark assessment as failed")
		}
		return err
	}

	return nil
}

// runWorkbook 评估工作簿的全部单元格
func (s *AssessmentService) runWorkbook(ctx context.Context, assessment *models.Assessment) error {
	repo := s.repo.WithContext(ctx)

	f, err := excelize.OpenFile(assessment.WorkbookPath)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet, err := s.resolveSheet(f, assessment.SheetName)
	if err != nil {
		return err
	}

	headers, err := spreadsheet.HeaderRow(f, sheet)
	if err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}

	queryIdx := spreadsheet.ColumnIndex(headers, assessment.QueryColumn)
	if queryIdx < 0 {
		return fmt.Errorf("query column %q not found in sheet %s", assessment.QueryColumn, sheet)
	}

	// 答案列不存在时追加到表头末尾
	answerIdx := spreadsheet.ColumnIndex(headers, assessment.AnswerColumn)
	if answerIdx < 0 {
		answerIdx = len(headers)
		headerCell, err := excelize.CoordinatesToCellName(answerIdx+1, 1)
		if err != nil {
			return fmt.Errorf("failed to locate answer header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, headerCell, assessment.AnswerColumn); err != nil {
			return fmt.Errorf("failed to write answer header: %w", err)
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet rows: %w", err)
	}

	documentIDs := s.decodeDocumentIDs(assessment)
	rule := s.ruleForColumn(assessment.QueryColumn)

	var mu sync.Mutex
	graded, failed := 0, 0

	pool := workerpool.New(s.maxWorkers)
	for i := 1; i < len(rows); i++ {
		rowIdx := i
		if queryIdx >= len(rows[rowIdx]) {
			continue
		}
		query := strings.TrimSpace(rows[rowIdx][queryIdx])
		if query == "" {
			continue
		}

		pool.Submit(func() {
			cell := &models.AssessmentCell{
				AssessmentID: assessment.ID,
				SheetName:    sheet,
				RowIndex:     rowIdx + 1,
				SearchQuery:  query,
				Rule:         rule,
			}

			answer, err := s.gradeCell(ctx, assessment, query, rule, documentIDs, cell)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++
				cell.Error = err.Error()
				s.logger.WithError(err).WithFields(logrus.Fields{
					"assessment_id": assessment.ID,
					"row":           rowIdx + 1,
				}).Warn("Failed to grade cell")
			} else {
				graded++
				cellName, coordErr := excelize.CoordinatesToCellName(answerIdx+1, rowIdx+1)
				if coordErr == nil {
					if writeErr := f.SetCellValue(sheet, cellName, answer); writeErr != nil {
						s.logger.WithError(writeErr).Warn("Failed to write answer cell")
					}
				}
			}

			if saveErr := repo.SaveCell(cell); saveErr != nil {
				s.logger.WithError(saveErr).Warn("Failed to save cell record")
			}

			if progressErr := repo.UpdateAssessmentProgress(assessment.ID, graded, failed); progressErr != nil {
				s.logger.WithError(progressErr).Warn("Failed to update assessment progress")
			}
		})
	}
	pool.StopWait()

	resultPath := s.resultPathFor(assessment.WorkbookPath)
	if err := f.SaveAs(resultPath); err != nil {
		return fmt.Errorf("failed to save result workbook: %w", err)
	}

	assessment.Status = models.AssessStatusCompleted
	assessment.GradedCells = graded
	assessment.FailedCells = failed
	assessment.ResultPath = resultPath
	now := time.Now()
	assessment.CompletedAt = &now
	if err := repo.UpdateAssessment(assessment); err != nil {
		return fmt.Errorf("failed to update assessment: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"assessment_id": assessment.ID,
		"graded":        graded,
		"failed":        failed,
		"result_path":   resultPath,
	}).Info("Assessment completed")

	return nil
}

// gradeCell 评估单个单元格
// 检索查询先查缓存，未命中时走嵌入、检索、评分的完整流程
func (s *AssessmentService) gradeCell(
	ctx context.Context,
	assessment *models.Assessment,
	query string,
	rule string,
	documentIDs []string,
	cell *models.AssessmentCell,
) (string, error) {
	modelName := s.grader.Client.Name()
	cell.ModelName = modelName

	gradeKey := cache.GradeCacheKey(modelName, query, rule)
	if s.cache != nil {
		if cached, found, err := s.cache.Get(ctx, gradeKey); err == nil && found {
			cell.Result = cached
			return cached, nil
		}
	}

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.vectorDB.Search(vector, vectordb.SearchFilter{
		DocumentIDs: documentIDs,
		MinScore:    s.minScore,
		MaxResults:  s.topK,
	})
	if err != nil {
		return "", fmt.Errorf("failed to search knowledge base: %w", err)
	}

	contexts := make([]string, 0, len(results))
	sources := make([]models.Source, 0, len(results))
	for _, result := range results {
		contexts = append(contexts, result.Chunk.Text)
		sources = append(sources, models.Source{
			ChunkID:      result.Chunk.ID,
			DocumentID:   result.Chunk.DocumentID,
			DocumentName: result.Chunk.DocumentName,
			Position:     result.Chunk.Position,
			Text:         result.Chunk.Text,
			Reason:       result.Chunk.Reason,
			Score:        result.Score,
		})
	}

	gradeReq := llm.GradeRequest{
		SearchQuery: query,
		Rule:        rule,
		Contexts:    contexts,
	}
	gradeResult, err := s.grader.Grade(ctx, gradeReq)
	if err != nil {
		// 限流和瞬时服务端错误重试一次
		var llmErr llm.LLMError
		if errors.As(err, &llmErr) && llmErr.Retryable() && ctx.Err() == nil {
			s.logger.WithError(err).Warn("Retrying grade call after transient error")
			gradeResult, err = s.grader.Grade(ctx, gradeReq)
		}
		if err != nil {
			return "", err
		}
	}

	cell.Result = gradeResult.Text
	cell.TokenCount = gradeResult.TokenCount
	cell.ModelName = gradeResult.ModelName

	if data, err := json.Marshal(sources); err == nil {
		cell.Sources = datatypes.JSON(data)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, gradeKey, gradeResult.Text, s.cacheTTL); err != nil {
			s.logger.WithError(err).Debug("Failed to cache grade result")
		}
	}

	return gradeResult.Text, nil
}

// embedQuery 生成查询向量，结果缓存避免重复调用嵌入服务
func (s *AssessmentService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := cache.EmbeddingCacheKey(s.embedder.Name(), query)

	if s.cache != nil {
		if cached, found, err := s.cache.Get(ctx, key); err == nil && found {
			var vector []float32
			if err := json.Unmarshal([]byte(cached), &vector); err == nil && len(vector) > 0 {
				return vector, nil
			}
		}
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(vector); err == nil {
			if err := s.cache.Set(ctx, key, string(data), s.cacheTTL); err != nil {
				s.logger.WithError(err).Debug("Failed to cache query embedding")
			}
		}
	}

	return vector, nil
}

// GetAssessment 获取评估任务
func (s *AssessmentService) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	return s.repo.WithContext(ctx).GetAssessment(id)
}

// ListAssessments 列出评估任务
func (s *AssessmentService) ListAssessments(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Assessment, int64, error) {
	return s.repo.WithContext(ctx).ListAssessments(offset, limit, filters)
}

// GetAssessmentCells 获取评估任务的单元格记录
func (s *AssessmentService) GetAssessmentCells(ctx context.Context, id string) ([]*models.AssessmentCell, error) {
	return s.repo.WithContext(ctx).GetCells(id)
}

// DeleteAssessment 删除评估任务及其单元格记录
func (s *AssessmentService) DeleteAssessment(ctx context.Context, id string) error {
	if _, err := s.repo.WithContext(ctx).GetAssessment(id); err != nil {
		return err
	}

	s.logger.WithField("assessment_id", id).Info("Deleting assessment")
	return s.repo.WithContext(ctx).DeleteAssessment(id)
}

// ruleForColumn 获取指定列的评估规则
func (s *AssessmentService) ruleForColumn(column string) string {
	if s.promptCfg == nil {
		return ""
	}
	return s.promptCfg.RuleFor(column)
}

// resolveSheet 确定工作表名，空时使用第一个工作表
func (s *AssessmentService) resolveSheet(f *excelize.File, sheetName string) (string, error) {
	if sheetName != "" {
		return sheetName, nil
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	return sheets[0], nil
}

// resultPathFor 生成结果工作簿的保存路径
func (s *AssessmentService) resultPathFor(workbookPath string) string {
	dir := s.resultDir
	if dir == "" {
		dir = filepath.Dir(workbookPath)
	}

	base := filepath.Base(workbookPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_assessed%s", name, ext))
}

// decodeDocumentIDs 解析评估任务限定的文档ID列表
func (s *AssessmentService) decodeDocumentIDs(assessment *models.Assessment) []string {
	if len(assessment.DocumentIDs) == 0 {
		return nil
	}

	var ids []string
	if err := json.Unmarshal(assessment.DocumentIDs, &ids); err != nil {
		s.logger.WithError(err).Warn("Failed to decode assessment document ids")
		return nil
	}
	return ids
}

// AssessmentTaskHandler 评估任务的队列处理器
type AssessmentTaskHandler struct {
	svc    *AssessmentService
	queue  taskqueue.Queue
	logger *logrus.Logger
}

// NewAssessmentTaskHandler 创建评估任务处理器
func NewAssessmentTaskHandler(svc *AssessmentService, queue taskqueue.Queue, logger *logrus.Logger) *AssessmentTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}

	return &AssessmentTaskHandler{
		svc:    svc,
		queue:  queue,
		logger: logger,
	}
}

// GetTaskTypes 返回处理器支持的任务类型
func (h *AssessmentTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskAssessment}
}

// ProcessTask 执行评估任务
func (h *AssessmentTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.AssessmentPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal assessment payload: %w", err)
	}

	h.logger.WithField("assessment_id", payload.AssessmentID).Info("Processing assessment task")

	if err := h.svc.Run(ctx, payload.AssessmentID); err != nil {
		result := taskqueue.AssessmentResult{
			AssessmentID: payload.AssessmentID,
			Error:        err.Error(),
		}
		if updateErr := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); updateErr != nil {
			h.logger.WithError(updateErr).Warn("Failed to store assessment result")
		}
		return err
	}

	assessment, err := h.svc.GetAssessment(ctx, payload.AssessmentID)
	if err != nil {
		return err
	}

	result := taskqueue.AssessmentResult{
		AssessmentID: assessment.ID,
		GradedCells:  assessment.GradedCells,
		FailedCells:  assessment.FailedCells,
		ResultPath:   assessment.ResultPath,
	}
	if err := h.queue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to store assessment result")
	}

	return nil
}
