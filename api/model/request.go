package model

import "mime/multipart"

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页条数，默认为10，最大100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 计算数据库查询偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"` // 上传的文件
	Tags string                `form:"tags" json:"tags"`        // 可选标签，逗号分隔
}

// DocumentStatusRequest 文档状态查询请求
type DocumentStatusRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	Status string `form:"status" json:"status" binding:"omitempty,oneof=uploaded processing completed failed"` // 按状态过滤
	Tags   string `form:"tags" json:"tags"`                                                                    // 按标签过滤
}

// DocumentTagsRequest 文档标签更新请求
type DocumentTagsRequest struct {
	Tags string `json:"tags" binding:"required"` // 新标签，逗号分隔
}

// AssessmentCreateRequest 创建评估任务请求
// 工作簿通过表单上传，列名用于定位评估要求和结果写入位置
type AssessmentCreateRequest struct {
	File         *multipart.FileHeader `form:"file" binding:"required"`         // 评估工作簿(xlsx)
	SheetName    string                `form:"sheet_name"`                      // 工作表名，空表示第一个工作表
	QueryColumn  string                `form:"query_column" binding:"required,columnname"`  // 评估要求所在列名
	AnswerColumn string                `form:"answer_column" binding:"omitempty,columnname"` // 评估结果列名，缺省时自动追加
	DocumentIDs  []string              `form:"document_ids"`                    // 限定检索的文档，空表示全库
	Async        bool                  `form:"async"`                           // 是否异步执行
}

// AssessmentIDRequest 评估ID请求
type AssessmentIDRequest struct {
	ID string `uri:"id" binding:"required"` // 评估ID
}

// AssessmentListRequest 评估列表请求
type AssessmentListRequest struct {
	PaginationRequest
	Status string `form:"status" json:"status" binding:"omitempty,oneof=pending running completed failed"` // 按状态过滤
}

// SearchRequest 知识库语义搜索请求
type SearchRequest struct {
	Query       string   `json:"query" binding:"required"`                 // 查询文本
	DocumentIDs []string `json:"document_ids"`                             // 限定检索的文档
	TopK        int      `json:"top_k" binding:"omitempty,min=1,max=50"`   // 返回结果数，默认5
	MinScore    float32  `json:"min_score" binding:"omitempty,min=0,max=1"` // 最小相似度分数
}
