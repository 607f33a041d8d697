package repository

import (
	"encoding/json"
	"testing"

	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func createTestAssessment(t *testing.T, repo AssessmentRepository) *models.Assessment {
	docIDs, err := json.Marshal([]string{"doc-1", "doc-2"})
	require.NoError(t, err)

	assessment := &models.Assessment{
		WorkbookName: "checklist.xlsx",
		WorkbookPath: "/path/to/checklist.xlsx",
		SheetName:    "Sheet1",
		QueryColumn:  "评估要求",
		AnswerColumn: "评估结果",
		DocumentIDs:  datatypes.JSON(docIDs),
		TotalCells:   10,
		ModelName:    "qwen-turbo",
	}

	err = repo.CreateAssessment(assessment)
	require.NoError(t, err, "Assessment creation should succeed")
	return assessment
}

func TestAssessmentRepository_CreateAndGet(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAssessmentRepository()
	assessment := createTestAssessment(t, repo)

	assert.NotEmpty(t, assessment.ID, "ID should be auto-generated")
	assert.Equal(t, models.AssessStatusPending, assessment.Status, "Status should default to pending")

	saved, err := repo.GetAssessment(assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, "checklist.xlsx", saved.WorkbookName)
	assert.Equal(t, "评估要求", saved.QueryColumn)
	assert.Equal(t, 10, saved.TotalCells)

	var docIDs []string
	err = json.Unmarshal(saved.DocumentIDs, &docIDs)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, docIDs, "Document IDs should round-trip")

	// 不存在的评估任务
	_, err = repo.GetAssessment("non-existing")
	assert.Error(t, err, "Should return error for non-existing assessment")
}

func TestAssessmentRepository_List(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAssessmentRepository()

	first := createTestAssessment(t, repo)
	second := createTestAssessment(t, repo)

	require.NoError(t, repo.UpdateAssessmentStatus(second.ID, models.AssessStatusRunning, ""))

	// 无过滤器列表
	assessments, total, err := repo.ListAssessments(0, 10, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, assessments, 2)

	// 状态过滤器
	assessments, total, err = repo.ListAssessments(0, 10, map[string]interface{}{
		"status": string(models.AssessStatusRunning),
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, assessments, 1)
	assert.Equal(t, second.ID, assessments[0].ID)

	// 工作簿名过滤器
	_, total, err = repo.ListAssessments(0, 10, map[string]interface{}{
		"workbook_name": "checklist",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_ = first
}

func TestAssessmentRepository_UpdateStatus(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAssessmentRepository()
	assessment := createTestAssessment(t, repo)

	err := repo.UpdateAssessmentStatus(assessment.ID, models.AssessStatusRunning, "")
	assert.NoError(t, err)

	updated, err := repo.GetAssessment(assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssessStatusRunning, updated.Status)
	assert.Nil(t, updated.CompletedAt, "CompletedAt should not be set while running")

	err = repo.UpdateAssessmentStatus(assessment.ID, models.AssessStatusFailed, "llm timeout")
	assert.NoError(t, err)

	updated, err = repo.GetAssessment(assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssessStatusFailed, updated.Status)
	assert.Equal(t, "llm timeout", updated.Error, "Error message should be set")
	assert.NotNil(t, updated.CompletedAt, "CompletedAt should be set for failed status")
}

func TestAssessmentRepository_UpdateProgress(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAssessmentRepository()
	assessment := createTestAssessment(t, repo)

	err := repo.UpdateAssessmentProgress(assessment.ID, 7, 1)
	assert.NoError(t, err)

	updated, err := repo.GetAssessment(assessment.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, updated.GradedCells)
	assert.Equal(t, 1, updated.FailedCells)
}

func TestAssessmentRepository_CellOperations(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAssessmentRepository()
	assessment := createTestAssessment(t, repo)

	sources, err := json.Marshal([]models.Source{
		{
			ChunkID:      "chunk-1",
			DocumentID:   "doc-1",
			DocumentName: "manual.md",
			Position:     0,
			Text:         "# Requirement\n\nDetails",
			Reason:       "content under heading level 1",
			Score:        0.92,
		},
	})
	require.NoError(t, err)

	cell1 := &models.AssessmentCell{
		AssessmentID: assessment.ID,
		SheetName:    "Sheet1",
		RowIndex:     2,
		SearchQuery:  "系统是否支持文档分块？",
		Rule:         "满足/部分满足/不满足",
		Result:       "满足。文档描述了完整的分块流程。",
		TokenCount:   120,
		ModelName:    "qwen-turbo",
		Sources:      datatypes.JSON(sources),
	}

	cell2 := &models.AssessmentCell{
		AssessmentID: assessment.ID,
		SheetName:    "Sheet1",
		RowIndex:     3,
		SearchQuery:  "系统是否支持向量检索？",
		Error:        "no relevant context found",
	}

	// 单个保存
	err = repo.SaveCell(cell1)
	assert.NoError(t, err, "SaveCell should succeed")

	// 缺少评估ID应被拒绝
	err = repo.SaveCell(&models.AssessmentCell{RowIndex: 1})
	assert.Error(t, err, "Cell without assessment ID should be rejected")

	// 批量保存
	err = repo.SaveCells([]*models.AssessmentCell{cell2})
	assert.NoError(t, err, "SaveCells should succeed")

	// 获取单元格记录，按行号排序
	cells, err := repo.GetCells(assessment.ID)
	assert.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, 2, cells[0].RowIndex)
	assert.Equal(t, 3, cells[1].RowIndex)
	assert.Equal(t, "满足。文档描述了完整的分块流程。", cells[0].Result)

	var savedSources []models.Source
	err = json.Unmarshal(cells[0].Sources, &savedSources)
	require.NoError(t, err)
	require.Len(t, savedSources, 1)
	assert.Equal(t, "chunk-1", savedSources[0].ChunkID)
	assert.Equal(t, "content under heading level 1", savedSources[0].Reason)

	// 统计单元格记录数量
	count, err := repo.CountCells(assessment.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAssessmentRepository_Delete(t *testing.T) {
	_, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAssessmentRepository()
	assessment := createTestAssessment(t, repo)

	require.NoError(t, repo.SaveCell(&models.AssessmentCell{
		AssessmentID: assessment.ID,
		RowIndex:     2,
		SearchQuery:  "query",
	}))

	err := repo.DeleteAssessment(assessment.ID)
	assert.NoError(t, err, "Delete should succeed")

	_, err = repo.GetAssessment(assessment.ID)
	assert.Error(t, err, "Assessment should no longer exist")

	count, err := repo.CountCells(assessment.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count, "Cells should be deleted along with the assessment")
}
