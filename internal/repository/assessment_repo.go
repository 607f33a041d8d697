package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/database"
	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssessmentRepository 评估仓储接口
// 负责评估任务和单元格评估记录的存储和检索
type AssessmentRepository interface {
	// CreateAssessment 创建评估任务
	CreateAssessment(assessment *models.Assessment) error

	// GetAssessment 获取评估任务
	GetAssessment(id string) (*models.Assessment, error)

	// ListAssessments 列出评估任务，支持分页和筛选
	ListAssessments(offset, limit int, filters map[string]interface{}) ([]*models.Assessment, int64, error)

	// UpdateAssessment 更新评估任务
	UpdateAssessment(assessment *models.Assessment) error

	// UpdateAssessmentStatus 更新评估任务状态
	UpdateAssessmentStatus(id string, status models.AssessmentStatus, errorMsg string) error

	// UpdateAssessmentProgress 更新评估进度计数
	UpdateAssessmentProgress(id string, gradedCells, failedCells int) error

	// DeleteAssessment 删除评估任务及其单元格记录
	DeleteAssessment(id string) error

	// SaveCell 保存单元格评估记录
	SaveCell(cell *models.AssessmentCell) error

	// SaveCells 批量保存单元格评估记录
	SaveCells(cells []*models.AssessmentCell) error

	// GetCells 获取评估任务的所有单元格记录
	GetCells(assessmentID string) ([]*models.AssessmentCell, error)

	// CountCells 统计评估任务的单元格记录数量
	CountCells(assessmentID string) (int64, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) AssessmentRepository
}

// assessmentRepo 评估仓储实现
type assessmentRepo struct {
	db *gorm.DB // 数据库连接
}

// NewAssessmentRepository 创建评估仓储实例
func NewAssessmentRepository() AssessmentRepository {
	return &assessmentRepo{
		db: database.MustDB(),
	}
}

// NewAssessmentRepositoryWithDB 使用指定的数据库连接创建评估仓储实例
func NewAssessmentRepositoryWithDB(db *gorm.DB) AssessmentRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &assessmentRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *assessmentRepo) WithContext(ctx context.Context) AssessmentRepository {
	return &assessmentRepo{
		db: r.db.WithContext(ctx),
	}
}

// CreateAssessment 创建评估任务
func (r *assessmentRepo) CreateAssessment(assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.New().String()
	}

	if assessment.Status == "" {
		assessment.Status = models.AssessStatusPending
	}

	now := time.Now()
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = now
	}
	assessment.UpdatedAt = now

	return r.db.Create(assessment).Error
}

// GetAssessment 获取评估任务
func (r *assessmentRepo) GetAssessment(id string) (*models.Assessment, error) {
	var assessment models.Assessment
	err := r.db.Where("id = ?", id).First(&assessment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("assessment not found: %s", id)
		}
		return nil, err
	}
	return &assessment, nil
}

// ListAssessments 列出评估任务，支持分页和筛选
func (r *assessmentRepo) ListAssessments(offset, limit int, filters map[string]interface{}) ([]*models.Assessment, int64, error) {
	var assessments []*models.Assessment
	var total int64

	query := r.db.Model(&models.Assessment{})

	// 应用筛选条件
	if filters != nil {
		// 状态过滤
		if status, ok := filters["status"].(string); ok && status != "" {
			query = query.Where("status = ?", status)
		}

		// 工作簿文件名过滤
		if name, ok := filters["workbook_name"].(string); ok && name != "" {
			query = query.Where("workbook_name LIKE ?", "%"+name+"%")
		}

		// 时间范围过滤
		if startTime, ok := filters["start_time"].(string); ok && startTime != "" {
			query = query.Where("created_at >= ?", startTime)
		}

		if endTime, ok := filters["end_time"].(string); ok && endTime != "" {
			query = query.Where("created_at <= ?", endTime)
		}
	}

	// 获取总数
	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	// 应用排序、分页并执行查询
	err = query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&assessments).Error

	if err != nil {
		return nil, 0, err
	}

	return assessments, total, nil
}

// UpdateAssessment 更新评估任务
func (r *assessmentRepo) UpdateAssessment(assessment *models.Assessment) error {
	if assessment.ID == "" {
		return errors.New("assessment ID cannot be empty")
	}

	assessment.UpdatedAt = time.Now()
	return r.db.Save(assessment).Error
}

// UpdateAssessmentStatus 更新评估任务状态
func (r *assessmentRepo) UpdateAssessmentStatus(id string, status models.AssessmentStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}

	if errorMsg != "" {
		updates["error"] = errorMsg
	}

	// 终态时记录完成时间
	if status == models.AssessStatusCompleted || status == models.AssessStatusFailed {
		now := time.Now()
		updates["completed_at"] = &now
	}

	return r.db.Model(&models.Assessment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateAssessmentProgress 更新评估进度计数
func (r *assessmentRepo) UpdateAssessmentProgress(id string, gradedCells, failedCells int) error {
	return r.db.Model(&models.Assessment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"graded_cells": gradedCells,
			"failed_cells": failedCells,
			"updated_at":   time.Now(),
		}).Error
}

// DeleteAssessment 删除评估任务及其单元格记录
func (r *assessmentRepo) DeleteAssessment(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// 1. 删除单元格记录
		if err := tx.Where("assessment_id = ?", id).Delete(&models.AssessmentCell{}).Error; err != nil {
			return err
		}

		// 2. 删除评估任务
		return tx.Where("id = ?", id).Delete(&models.Assessment{}).Error
	})
}

// SaveCell 保存单元格评估记录
func (r *assessmentRepo) SaveCell(cell *models.AssessmentCell) error {
	if cell.AssessmentID == "" {
		return errors.New("assessment ID cannot be empty")
	}

	return r.db.Create(cell).Error
}

// SaveCells 批量保存单元格评估记录
func (r *assessmentRepo) SaveCells(cells []*models.AssessmentCell) error {
	if len(cells) == 0 {
		return nil
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(cells, 100).Error
	})
}

// GetCells 获取评估任务的所有单元格记录
func (r *assessmentRepo) GetCells(assessmentID string) ([]*models.AssessmentCell, error) {
	var cells []*models.AssessmentCell
	err := r.db.Where("assessment_id = ?", assessmentID).
		Order("row_index ASC").
		Find(&cells).Error
	return cells, err
}

// CountCells 统计评估任务的单元格记录数量
func (r *assessmentRepo) CountCells(assessmentID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.AssessmentCell{}).
		Where("assessment_id = ?", assessmentID).
		Count(&count).Error
	return count, err
}
