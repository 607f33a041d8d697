package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AssessmentStatus 评估任务状态类型
type AssessmentStatus string

const (
	// AssessStatusPending 评估已创建，等待执行
	AssessStatusPending AssessmentStatus = "pending"
	// AssessStatusRunning 评估执行中
	AssessStatusRunning AssessmentStatus = "running"
	// AssessStatusCompleted 评估完成
	AssessStatusCompleted AssessmentStatus = "completed"
	// AssessStatusFailed 评估失败
	AssessStatusFailed AssessmentStatus = "failed"
)

// Assessment 评估任务模型
// 一次评估对应一个工作簿：逐行取出评估要求，检索知识库后由大模型评分
type Assessment struct {
	ID           string           `gorm:"primaryKey"`         // 评估ID，主键
	WorkbookName string           `gorm:"not null"`           // 工作簿文件名
	WorkbookPath string           `gorm:"not null"`           // 工作簿文件路径
	SheetName    string           `gorm:"size:100"`           // 工作表名，空表示第一个工作表
	QueryColumn  string           `gorm:"size:100;not null"`  // 评估要求所在列
	AnswerColumn string           `gorm:"size:100;not null"`  // 评估结果写入列
	Status       AssessmentStatus `gorm:"not null;index"`     // 评估状态
	DocumentIDs  datatypes.JSON   `gorm:"type:json"`          // 参与检索的文档ID列表
	TotalCells   int              `gorm:"not null;default:0"` // 待评估单元格总数
	GradedCells  int              `gorm:"not null;default:0"` // 已评估单元格数
	FailedCells  int              `gorm:"not null;default:0"` // 评估失败单元格数
	ModelName    string           `gorm:"size:50"`            // 使用的大模型名称
	ResultPath   string           `gorm:"size:255"`           // 评估结果工作簿路径
	CreatedAt    time.Time        `gorm:"not null;index"`     // 创建时间
	UpdatedAt    time.Time        `gorm:"not null"`           // 更新时间
	CompletedAt  *time.Time       `gorm:""`                   // 完成时间
	Error        string           `gorm:"type:text"`          // 错误信息
	Metadata     datatypes.JSON   `gorm:"type:json"`          // 元数据
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (a *Assessment) BeforeCreate(tx *gorm.DB) (err error) {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (a *Assessment) BeforeUpdate(tx *gorm.DB) (err error) {
	a.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (Assessment) TableName() string {
	return "assessments"
}

// AssessmentCell 单元格评估记录模型
// 记录工作簿中单个单元格的检索和评分结果
type AssessmentCell struct {
	ID           uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	AssessmentID string         `gorm:"not null;index"`           // 所属评估ID
	SheetName    string         `gorm:"size:100"`                 // 工作表名
	RowIndex     int            `gorm:"not null"`                 // 行号（从1开始）
	SearchQuery  string         `gorm:"type:text;not null"`       // 检索查询（评估要求）
	Rule         string         `gorm:"type:text"`                // 本单元格使用的评分规则
	Result       string         `gorm:"type:text"`                // 评估结果文本
	TokenCount   int            `gorm:"default:0"`                // 生成消耗的token数
	ModelName    string         `gorm:"size:50"`                  // 使用的大模型名称
	Error        string         `gorm:"type:text"`                // 评估失败时的错误信息
	Sources      datatypes.JSON `gorm:"type:json"`                // 引用的知识库分块
	CreatedAt    time.Time      `gorm:"not null"`                 // 创建时间
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (ac *AssessmentCell) BeforeCreate(tx *gorm.DB) (err error) {
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (AssessmentCell) TableName() string {
	return "assessment_cells"
}

// Source 表示评估结果引用的知识库分块
type Source struct {
	ChunkID      string  `json:"chunk_id"`        // 分块ID
	DocumentID   string  `json:"document_id"`     // 所属文档ID
	DocumentName string  `json:"document_name"`   // 文档名
	Position     int     `json:"position"`        // 分块位置
	Text         string  `json:"text"`            // 引用的文本
	Reason       string  `json:"reason"`          // 分块形成原因
	Score        float32 `json:"score,omitempty"` // 匹配分数
}
