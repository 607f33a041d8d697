package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/doc-assess-system/api/middleware"
	"github.com/fyerfyer/doc-assess-system/api/model"
	"github.com/fyerfyer/doc-assess-system/internal/services"
	"github.com/fyerfyer/doc-assess-system/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	documentService *services.DocumentService // 文档服务
	fileStorage     storage.Storage           // 文件存储服务
	logger          *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(documentService *services.DocumentService, fileStorage storage.Storage) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		fileStorage:     fileStorage,
		logger:          middleware.GetLogger(),
	}
}

// UploadDocument 处理文档上传请求
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid document upload request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	filename := req.File.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if !isValidFileType(ext) {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"不支持的文件类型，仅支持 .pdf, .md, .markdown, .txt, .xlsx, .docx",
		))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to open uploaded file")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的文件",
		))
		return
	}
	defer file.Close()

	fileInfo, err := h.fileStorage.Save(c.Request.Context(), file, filename)
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to save file")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"保存文件失败",
		))
		return
	}

	// 先落库文档记录，处理流程依赖状态机
	statusManager := h.documentService.GetStatusManager()
	if statusManager != nil {
		if err := statusManager.MarkAsUploaded(c.Request.Context(), fileInfo.ID, filename, fileInfo.Path, fileInfo.Size); err != nil {
			h.logger.WithError(err).WithField("file_id", fileInfo.ID).Error("Failed to record uploaded document")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"记录文档信息失败",
			))
			return
		}
	}

	if req.Tags != "" {
		if err := h.documentService.UpdateDocumentTags(c.Request.Context(), fileInfo.ID, req.Tags); err != nil {
			h.logger.WithError(err).WithField("file_id", fileInfo.ID).Warn("Failed to set document tags")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"file_id":  fileInfo.ID,
		"filename": fileInfo.Name,
		"path":     fileInfo.Path,
		"size":     fileInfo.Size,
	}).Info("File uploaded successfully")

	// ProcessDocument内部根据是否启用异步队列决定执行方式
	go func() {
		ctx := context.Background()
		if err := h.documentService.ProcessDocument(ctx, fileInfo.ID, fileInfo.Path); err != nil {
			h.logger.WithError(err).WithField("file_id", fileInfo.ID).Error("Failed to process document")
		}
	}()

	resp := model.DocumentUploadResponse{
		FileID:   fileInfo.ID,
		FileName: filename,
		Status:   "processing",
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocumentStatus 获取文档处理状态
// GET /api/documents/:id/status
func (h *DocumentHandler) GetDocumentStatus(c *gin.Context) {
	var req model.DocumentStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	statusManager := h.documentService.GetStatusManager()
	doc, err := statusManager.GetDocument(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("file_id", req.ID).Warn("Failed to get document")
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到文档"))
		return
	}

	resp := model.DocumentStatusResponse{
		FileID:     doc.ID,
		FileName:   doc.FileName,
		Title:      doc.Title,
		Status:     string(doc.Status),
		Stage:      string(doc.CurrentStage),
		Progress:   doc.Progress,
		Error:      doc.Error,
		ChunkCount: doc.ChunkCount,
		Tags:       doc.Tags,
		UploadedAt: doc.UploadedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:  doc.UpdatedAt.Format("2006-01-02 15:04:05"),
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetDocumentChunks 获取文档分块列表
// GET /api/documents/:id/chunks
func (h *DocumentHandler) GetDocumentChunks(c *gin.Context) {
	var req model.DocumentStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	chunks, err := h.documentService.GetDocumentChunks(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("file_id", req.ID).Error("Failed to get document chunks")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取文档分块失败",
		))
		return
	}

	infos := make([]model.ChunkInfo, 0, len(chunks))
	for _, chunk := range chunks {
		infos = append(infos, model.ChunkInfo{
			ChunkID:    chunk.ChunkID,
			Position:   chunk.Position,
			Text:       chunk.Text,
			Reason:     chunk.Reason,
			TokenCount: chunk.TokenCount,
		})
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentChunksResponse{
		FileID: req.ID,
		Total:  len(infos),
		Chunks: infos,
	}))
}

// ListDocuments 获取文档列表
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.Tags != "" {
		filters["tags"] = req.Tags
	}

	docs, total, err := h.documentService.ListDocuments(c.Request.Context(), req.Offset(), req.GetPageSize(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list documents")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取文档列表失败",
		))
		return
	}

	items := make([]model.DocumentListItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, model.NewDocumentListItem(doc))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentListResponse{
		Total:     total,
		Page:      req.GetPage(),
		PageSize:  req.GetPageSize(),
		Documents: items,
	}))
}

// UpdateDocumentTags 更新文档标签
// PUT /api/documents/:id/tags
func (h *DocumentHandler) UpdateDocumentTags(c *gin.Context) {
	var uriReq model.DocumentStatusRequest
	if err := c.ShouldBindUri(&uriReq); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	var req model.DocumentTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的请求参数"))
		return
	}

	if err := h.documentService.UpdateDocumentTags(c.Request.Context(), uriReq.ID, req.Tags); err != nil {
		h.logger.WithError(err).WithField("file_id", uriReq.ID).Error("Failed to update document tags")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"更新文档标签失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"file_id": uriReq.ID,
		"tags":    req.Tags,
	}))
}

// DeleteDocument 删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req model.DocumentStatusRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的文档ID"))
		return
	}

	if err := h.documentService.DeleteDocument(c.Request.Context(), req.ID); err != nil {
		h.logger.WithError(err).WithField("file_id", req.ID).Error("Failed to delete document")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除文档失败",
		))
		return
	}

	h.logger.WithField("file_id", req.ID).Info("Document deleted successfully")

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"success": true,
		"file_id": req.ID,
	}))
}

// isValidFileType 检查文件类型是否有效
func isValidFileType(ext string) bool {
	validTypes := map[string]bool{
		".pdf":      true,
		".md":       true,
		".markdown": true,
		".txt":      true,
		".xlsx":     true,
		".xlsm":     true,
		".docx":     true,
		".doc":      true,
	}
	return validTypes[ext]
}
