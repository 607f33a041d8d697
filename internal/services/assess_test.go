package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/cache"
	"github.com/fyerfyer/doc-assess-system/internal/llm"
	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/internal/prompt"
	"github.com/fyerfyer/doc-assess-system/internal/repository"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeLLMClient 测试用的大模型客户端
type fakeLLMClient struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeLLMClient) Generate(ctx context.Context, prompt string, options ...llm.CallOption) (*llm.Response, error) {
	return c.respond()
}

func (c *fakeLLMClient) Chat(ctx context.Context, messages []llm.Message, options ...llm.CallOption) (*llm.Response, error) {
	return c.respond()
}

func (c *fakeLLMClient) Name() string {
	return "fake-grader"
}

func (c *fakeLLMClient) respond() (*llm.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	return &llm.Response{
		Text:       "符合要求：参考材料中包含对应描述。",
		TokenCount: 12,
		ModelName:  "fake-grader",
		FinishTime: time.Now(),
	}, nil
}

func (c *fakeLLMClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// setupAssessmentTestEnv 创建评估服务测试环境
func setupAssessmentTestEnv(t *testing.T) (*AssessmentService, *fakeLLMClient, string) {
	_, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	repo := repository.NewAssessmentRepository()

	vectorDB, err := vectordb.NewRepository(vectordb.Config{
		Type:      "memory",
		Dimension: 4,
	})
	require.NoError(t, err)

	// 预置知识库分块供检索
	require.NoError(t, vectorDB.AddBatch([]vectordb.Chunk{
		{
			ID:           "doc1_0",
			DocumentID:   "doc1",
			DocumentName: "验收文档.md",
			Position:     0,
			Text:         "系统支持文档的批量上传与自动解析。",
			Reason:       "paragraph",
			Vector:       []float32{1, 0, 0, 0},
			CreatedAt:    time.Now(),
		},
		{
			ID:           "doc1_1",
			DocumentID:   "doc1",
			DocumentName: "验收文档.md",
			Position:     1,
			Text:         "系统提供基于向量检索的知识问答能力。",
			Reason:       "paragraph",
			Vector:       []float32{0.9, 0.1, 0, 0},
			CreatedAt:    time.Now(),
		},
	}))

	llmClient := &fakeLLMClient{}
	grader := llm.NewGrader(llmClient)

	promptCfg := &prompt.Config{
		SystemPrompt: "你是一名验收评估专家。",
		DefaultRule:  "请评估\"{search_query}\"的满足情况。\n\n参考材料:\n{context}",
	}

	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	embedder := &testEmbeddingClient{dimension: 4}

	resultDir := t.TempDir()
	svc := NewAssessmentService(
		repo,
		embedder,
		vectorDB,
		grader,
		promptCfg,
		WithAssessmentCache(memCache),
		WithAssessmentWorkers(2),
		WithTopK(2),
		WithResultDir(resultDir),
	)

	return svc, llmClient, resultDir
}

// createTestWorkbook 创建测试工作簿
func createTestWorkbook(t *testing.T, dir string, withAnswerColumn bool) string {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "序号"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "评估项"))
	if withAnswerColumn {
		require.NoError(t, f.SetCellValue(sheet, "C1", "评估结果"))
	}

	queries := []string{
		"是否支持批量上传文档",
		"是否具备知识问答能力",
		"", // 空行应被跳过
		"是否支持向量检索",
	}
	for i, query := range queries {
		row := i + 2
		require.NoError(t, f.SetCellValue(sheet, cellName(t, 1, row), i+1))
		require.NoError(t, f.SetCellValue(sheet, cellName(t, 2, row), query))
	}

	path := filepath.Join(dir, "assessment.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func cellName(t *testing.T, col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	require.NoError(t, err)
	return name
}

// TestCreateAssessment 测试创建评估任务
func TestCreateAssessment(t *testing.T) {
	svc, _, _ := setupAssessmentTestEnv(t)
	ctx := context.Background()

	workbookPath := createTestWorkbook(t, t.TempDir(), true)

	t.Run("valid", func(t *testing.T) {
		assessment, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
			WorkbookPath: workbookPath,
			QueryColumn:  "评估项",
			AnswerColumn: "评估结果",
			DocumentIDs:  []string{"doc1"},
		})
		require.NoError(t, err)

		assert.NotEmpty(t, assessment.ID)
		assert.Equal(t, models.AssessStatusPending, assessment.Status)
		assert.Equal(t, 3, assessment.TotalCells, "空单元格不计入待评估总数")
		assert.Equal(t, "fake-grader", assessment.ModelName)
		assert.NotEmpty(t, assessment.SheetName, "未指定时应使用第一个工作表")
	})

	t.Run("missing query column", func(t *testing.T) {
		_, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
			WorkbookPath: workbookPath,
			QueryColumn:  "不存在的列",
			AnswerColumn: "评估结果",
		})
		assert.Error(t, err)
	})

	t.Run("missing workbook", func(t *testing.T) {
		_, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
			WorkbookPath: "/no/such/workbook.xlsx",
			QueryColumn:  "评估项",
			AnswerColumn: "评估结果",
		})
		assert.Error(t, err)
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
			WorkbookPath: workbookPath,
		})
		assert.Error(t, err)
	})
}

// TestRunAssessment 测试执行评估
func TestRunAssessment(t *testing.T) {
	svc, llmClient, resultDir := setupAssessmentTestEnv(t)
	ctx := context.Background()

	workbookPath := createTestWorkbook(t, t.TempDir(), true)

	assessment, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
		WorkbookPath: workbookPath,
		QueryColumn:  "评估项",
		AnswerColumn: "评估结果",
		DocumentIDs:  []string{"doc1"},
	})
	require.NoError(t, err)

	err = svc.RunAssessment(ctx, assessment.ID)
	require.NoError(t, err)

	// 评估任务应完成且计数正确
	done, err := svc.GetAssessment(ctx, assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssessStatusCompleted, done.Status)
	assert.Equal(t, 3, done.GradedCells)
	assert.Equal(t, 0, done.FailedCells)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, resultDir, filepath.Dir(done.ResultPath))

	// 结果工作簿应包含写入的评估结论
	_, err = os.Stat(done.ResultPath)
	require.NoError(t, err)

	f, err := excelize.OpenFile(done.ResultPath)
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)
	answer, err := f.GetCellValue(sheet, "C2")
	require.NoError(t, err)
	assert.NotEmpty(t, answer, "Answer cell should be populated")

	// 空查询行的答案单元格保持为空
	emptyRowAnswer, err := f.GetCellValue(sheet, "C4")
	require.NoError(t, err)
	assert.Empty(t, emptyRowAnswer)

	// 单元格记录应包含检索来源
	cells, err := svc.GetAssessmentCells(ctx, assessment.ID)
	require.NoError(t, err)
	require.Len(t, cells, 3)
	for _, cell := range cells {
		assert.NotEmpty(t, cell.Result)
		assert.NotEmpty(t, cell.SearchQuery)
		assert.NotEmpty(t, cell.Sources, "Cell should record retrieval sources")
		assert.Empty(t, cell.Error)
	}

	assert.Equal(t, 3, llmClient.callCount())
}

// TestRunAssessmentCacheHit 测试评估结果缓存命中
func TestRunAssessmentCacheHit(t *testing.T) {
	svc, llmClient, _ := setupAssessmentTestEnv(t)
	ctx := context.Background()

	workbookPath := createTestWorkbook(t, t.TempDir(), true)

	first, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
		WorkbookPath: workbookPath,
		QueryColumn:  "评估项",
		AnswerColumn: "评估结果",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunAssessment(ctx, first.ID))

	callsAfterFirst := llmClient.callCount()

	// 相同工作簿再次评估时应命中缓存，不再调用大模型
	second, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
		WorkbookPath: workbookPath,
		QueryColumn:  "评估项",
		AnswerColumn: "评估结果",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunAssessment(ctx, second.ID))

	assert.Equal(t, callsAfterFirst, llmClient.callCount(), "Cached answers should skip the LLM")

	done, err := svc.GetAssessment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, done.GradedCells)
}

// TestRunAssessmentAppendsAnswerColumn 测试自动追加答案列
func TestRunAssessmentAppendsAnswerColumn(t *testing.T) {
	svc, _, _ := setupAssessmentTestEnv(t)
	ctx := context.Background()

	workbookPath := createTestWorkbook(t, t.TempDir(), false)

	assessment, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
		WorkbookPath: workbookPath,
		QueryColumn:  "评估项",
		AnswerColumn: "评估结果",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunAssessment(ctx, assessment.ID))

	done, err := svc.GetAssessment(ctx, assessment.ID)
	require.NoError(t, err)

	f, err := excelize.OpenFile(done.ResultPath)
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)
	header, err := f.GetCellValue(sheet, "C1")
	require.NoError(t, err)
	assert.Equal(t, "评估结果", header, "Answer column header should be appended")

	answer, err := f.GetCellValue(sheet, "C2")
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
}

// TestDeleteAssessment 测试删除评估任务
func TestDeleteAssessment(t *testing.T) {
	svc, _, _ := setupAssessmentTestEnv(t)
	ctx := context.Background()

	workbookPath := createTestWorkbook(t, t.TempDir(), true)

	assessment, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
		WorkbookPath: workbookPath,
		QueryColumn:  "评估项",
		AnswerColumn: "评估结果",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunAssessment(ctx, assessment.ID))

	require.NoError(t, svc.DeleteAssessment(ctx, assessment.ID))

	_, err = svc.GetAssessment(ctx, assessment.ID)
	assert.Error(t, err)

	cells, err := svc.GetAssessmentCells(ctx, assessment.ID)
	require.NoError(t, err)
	assert.Empty(t, cells, "Cell records should be deleted with the assessment")

	// 删除不存在的评估任务
	err = svc.DeleteAssessment(ctx, "no-such-assessment")
	assert.Error(t, err)
}

// TestListAssessments 测试评估任务列表
func TestListAssessments(t *testing.T) {
	svc, _, _ := setupAssessmentTestEnv(t)
	ctx := context.Background()

	workbookPath := createTestWorkbook(t, t.TempDir(), true)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateAssessment(ctx, &CreateAssessmentRequest{
			WorkbookPath: workbookPath,
			QueryColumn:  "评估项",
			AnswerColumn: "评估结果",
		})
		require.NoError(t, err)
	}

	assessments, total, err := svc.ListAssessments(ctx, 0, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, assessments, 2)

	// 按状态筛选
	_, total, err = svc.ListAssessments(ctx, 0, 10, map[string]interface{}{
		"status": string(models.AssessStatusPending),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
