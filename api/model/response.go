package model

import (
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	FileID   string `json:"file_id"`           // 文件ID
	FileName string `json:"filename"`          // 文件名
	Status   string `json:"status"`            // 文档状态
	TaskID   string `json:"task_id,omitempty"` // 异步处理时的任务ID
}

// DocumentStatusResponse 文档状态查询响应
type DocumentStatusResponse struct {
	FileID     string `json:"file_id"`              // 文档ID
	FileName   string `json:"filename"`             // 文件名
	Title      string `json:"title,omitempty"`      // 文档标题
	Status     string `json:"status"`               // 处理状态
	Stage      string `json:"stage,omitempty"`      // 当前处理阶段
	Progress   int    `json:"progress"`             // 处理进度（0-100）
	Error      string `json:"error,omitempty"`      // 错误信息（如果有）
	ChunkCount int    `json:"chunks,omitempty"`     // 分块数量（处理完成后）
	Tags       string `json:"tags,omitempty"`       // 标签
	UploadedAt string `json:"uploaded_at"`          // 上传时间
	UpdatedAt  string `json:"updated_at,omitempty"` // 更新时间
}

// DocumentListItem 文档列表中的单条记录
type DocumentListItem struct {
	FileID     string    `json:"file_id"`         // 文件ID
	FileName   string    `json:"filename"`        // 文件名
	FileType   string    `json:"file_type"`       // 文件类型
	FileSize   int64     `json:"file_size"`       // 文件大小（字节）
	Title      string    `json:"title,omitempty"` // 文档标题
	Status     string    `json:"status"`          // 状态
	Progress   int       `json:"progress"`        // 处理进度
	ChunkCount int       `json:"chunks"`          // 分块数量
	Tags       string    `json:"tags,omitempty"`  // 标签
	UploadedAt time.Time `json:"uploaded_at"`     // 上传时间
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Total     int64              `json:"total"`     // 总记录数
	Page      int                `json:"page"`      // 当前页码
	PageSize  int                `json:"page_size"` // 每页记录数
	Documents []DocumentListItem `json:"documents"` // 文档列表
}

// NewDocumentListItem 从文档模型构造列表记录
func NewDocumentListItem(doc *models.Document) DocumentListItem {
	return DocumentListItem{
		FileID:     doc.ID,
		FileName:   doc.FileName,
		FileType:   doc.FileType,
		FileSize:   doc.FileSize,
		Title:      doc.Title,
		Status:     string(doc.Status),
		Progress:   doc.Progress,
		ChunkCount: doc.ChunkCount,
		Tags:       doc.Tags,
		UploadedAt: doc.UploadedAt,
	}
}

// ChunkInfo 文档分块信息
type ChunkInfo struct {
	ChunkID    string `json:"chunk_id"`    // 分块ID
	Position   int    `json:"position"`    // 分块在文档中的位置
	Text       string `json:"text"`        // 分块文本
	Reason     string `json:"reason"`      // 分块边界的产生原因
	TokenCount int    `json:"token_count"` // token数量
}

// DocumentChunksResponse 文档分块列表响应
type DocumentChunksResponse struct {
	FileID string      `json:"file_id"` // 文档ID
	Total  int         `json:"total"`   // 分块总数
	Chunks []ChunkInfo `json:"chunks"`  // 分块列表
}

// AssessmentResponse 评估任务响应
type AssessmentResponse struct {
	ID           string     `json:"id"`                    // 评估ID
	WorkbookName string     `json:"workbook_name"`         // 工作簿文件名
	SheetName    string     `json:"sheet_name,omitempty"`  // 工作表名
	QueryColumn  string     `json:"query_column"`          // 评估要求所在列
	AnswerColumn string     `json:"answer_column"`         // 评估结果写入列
	Status       string     `json:"status"`                // 评估状态
	TotalCells   int        `json:"total_cells"`           // 待评估单元格总数
	GradedCells  int        `json:"graded_cells"`          // 已评估单元格数
	FailedCells  int        `json:"failed_cells"`          // 评估失败单元格数
	ModelName    string     `json:"model_name,omitempty"`  // 使用的大模型
	ResultPath   string     `json:"result_path,omitempty"` // 结果工作簿路径
	Error        string     `json:"error,omitempty"`       // 错误信息
	CreatedAt    time.Time  `json:"created_at"`            // 创建时间
	CompletedAt  *time.Time `json:"completed_at,omitempty"` // 完成时间
	TaskID       string     `json:"task_id,omitempty"`     // 异步执行时的任务ID
}

// NewAssessmentResponse 从评估模型构造响应
func NewAssessmentResponse(a *models.Assessment) *AssessmentResponse {
	return &AssessmentResponse{
		ID:           a.ID,
		WorkbookName: a.WorkbookName,
		SheetName:    a.SheetName,
		QueryColumn:  a.QueryColumn,
		AnswerColumn: a.AnswerColumn,
		Status:       string(a.Status),
		TotalCells:   a.TotalCells,
		GradedCells:  a.GradedCells,
		FailedCells:  a.FailedCells,
		ModelName:    a.ModelName,
		ResultPath:   a.ResultPath,
		Error:        a.Error,
		CreatedAt:    a.CreatedAt,
		CompletedAt:  a.CompletedAt,
	}
}

// AssessmentListResponse 评估列表响应
type AssessmentListResponse struct {
	Total       int64                 `json:"total"`       // 总记录数
	Page        int                   `json:"page"`        // 当前页码
	PageSize    int                   `json:"page_size"`   // 每页记录数
	Assessments []*AssessmentResponse `json:"assessments"` // 评估列表
}

// AssessmentCellInfo 单元格评估结果
type AssessmentCellInfo struct {
	RowIndex    int             `json:"row_index"`             // 工作表中的行号
	SearchQuery string          `json:"search_query"`          // 检索查询（评估要求）
	Result      string          `json:"result,omitempty"`      // 评估结果文本
	Error       string          `json:"error,omitempty"`       // 评估失败时的错误
	TokenCount  int             `json:"token_count,omitempty"` // 生成消耗的token数
	Sources     []models.Source `json:"sources,omitempty"`     // 引用的知识库分块
}

// AssessmentCellsResponse 评估单元格列表响应
type AssessmentCellsResponse struct {
	AssessmentID string               `json:"assessment_id"` // 评估ID
	Total        int                  `json:"total"`         // 单元格总数
	Cells        []AssessmentCellInfo `json:"cells"`         // 单元格列表
}

// SearchResultInfo 单条检索结果
type SearchResultInfo struct {
	ChunkID      string  `json:"chunk_id"`         // 分块ID
	DocumentID   string  `json:"document_id"`      // 所属文档ID
	DocumentName string  `json:"document_name"`    // 文档名
	Position     int     `json:"position"`         // 分块位置
	Text         string  `json:"text"`             // 分块文本
	Reason       string  `json:"reason,omitempty"` // 分块边界的产生原因
	Score        float32 `json:"score"`            // 相似度得分
}

// SearchResponse 语义搜索响应
type SearchResponse struct {
	Query   string             `json:"query"`   // 原始查询
	Total   int                `json:"total"`   // 结果数量
	Results []SearchResultInfo `json:"results"` // 检索结果列表
}

// ConvertToSearchResults 将向量库检索结果转换为API响应格式
func ConvertToSearchResults(results []vectordb.SearchResult) []SearchResultInfo {
	infos := make([]SearchResultInfo, 0, len(results))
	for _, r := range results {
		infos = append(infos, SearchResultInfo{
			ChunkID:      r.Chunk.ID,
			DocumentID:   r.Chunk.DocumentID,
			DocumentName: r.Chunk.DocumentName,
			Position:     r.Chunk.Position,
			Text:         r.Chunk.Text,
			Reason:       r.Chunk.Reason,
			Score:        r.Score,
		})
	}
	return infos
}
