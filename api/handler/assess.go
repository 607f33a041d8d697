package handler

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/doc-assess-system/api/middleware"
	"github.com/fyerfyer/doc-assess-system/api/model"
	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/internal/services"
	"github.com/fyerfyer/doc-assess-system/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AssessmentHandler 处理评估相关的API请求
type AssessmentHandler struct {
	assessmentService *services.AssessmentService // 评估服务
	fileStorage       storage.Storage             // 工作簿存储
	logger            *logrus.Logger              // 日志记录器
}

// NewAssessmentHandler 创建新的评估处理器
func NewAssessmentHandler(assessmentService *services.AssessmentService, fileStorage storage.Storage) *AssessmentHandler {
	return &AssessmentHandler{
		assessmentService: assessmentService,
		fileStorage:       fileStorage,
		logger:            middleware.GetLogger(),
	}
}

// CreateAssessment 上传工作簿并创建评估任务
// POST /api/assessments
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	var req model.AssessmentCreateRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid assessment create request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	filename := req.File.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".xlsx" && ext != ".xlsm" {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"评估工作簿仅支持 .xlsx 和 .xlsm 格式",
		))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to open uploaded workbook")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"无法打开上传的工作簿",
		))
		return
	}
	defer file.Close()

	fileInfo, err := h.fileStorage.Save(c.Request.Context(), file, filename)
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to save workbook")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"保存工作簿失败",
		))
		return
	}

	// 评估服务直接用excelize打开工作簿，需要磁盘绝对路径
	workbookPath := fileInfo.Path
	if resolver, ok := h.fileStorage.(storage.PathResolver); ok {
		if localPath, err := resolver.LocalPath(fileInfo.ID); err == nil {
			workbookPath = localPath
		}
	}

	assessment, err := h.assessmentService.CreateAssessment(c.Request.Context(), &services.CreateAssessmentRequest{
		WorkbookPath: workbookPath,
		SheetName:    req.SheetName,
		QueryColumn:  req.QueryColumn,
		AnswerColumn: req.AnswerColumn,
		DocumentIDs:  req.DocumentIDs,
	})
	if err != nil {
		h.logger.WithError(err).WithField("workbook", filename).Error("Failed to create assessment")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"创建评估任务失败: "+err.Error(),
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"assessment_id": assessment.ID,
		"workbook":      filename,
		"total_cells":   assessment.TotalCells,
	}).Info("Assessment created")

	// async请求在创建后立即调度执行
	if req.Async {
		if err := h.assessmentService.RunAssessment(c.Request.Context(), assessment.ID); err != nil {
			h.logger.WithError(err).WithField("assessment_id", assessment.ID).Error("Failed to schedule assessment")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"调度评估任务失败: "+err.Error(),
			))
			return
		}
		assessment, _ = h.assessmentService.GetAssessment(c.Request.Context(), assessment.ID)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewAssessmentResponse(assessment)))
}

// RunAssessment 执行评估任务
// POST /api/assessments/:id/run
func (h *AssessmentHandler) RunAssessment(c *gin.Context) {
	var req model.AssessmentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的评估ID"))
		return
	}

	if err := h.assessmentService.RunAssessment(c.Request.Context(), req.ID); err != nil {
		h.logger.WithError(err).WithField("assessment_id", req.ID).Error("Failed to run assessment")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"执行评估任务失败: "+err.Error(),
		))
		return
	}

	assessment, err := h.assessmentService.GetAssessment(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到评估任务"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewAssessmentResponse(assessment)))
}

// GetAssessment 获取评估任务详情
// GET /api/assessments/:id
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	var req model.AssessmentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的评估ID"))
		return
	}

	assessment, err := h.assessmentService.GetAssessment(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("assessment_id", req.ID).Warn("Failed to get assessment")
		c.JSON(http.StatusNotFound, model.NewErrorResponse(http.StatusNotFound, "未找到评估任务"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewAssessmentResponse(assessment)))
}

// ListAssessments 获取评估任务列表
// GET /api/assessments
func (h *AssessmentHandler) ListAssessments(c *gin.Context) {
	var req model.AssessmentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的查询参数"))
		return
	}

	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}

	assessments, total, err := h.assessmentService.ListAssessments(c.Request.Context(), req.Offset(), req.GetPageSize(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list assessments")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取评估列表失败",
		))
		return
	}

	items := make([]*model.AssessmentResponse, 0, len(assessments))
	for _, a := range assessments {
		items = append(items, model.NewAssessmentResponse(a))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.AssessmentListResponse{
		Total:       total,
		Page:        req.GetPage(),
		PageSize:    req.GetPageSize(),
		Assessments: items,
	}))
}

// GetAssessmentCells 获取评估任务的单元格明细
// GET /api/assessments/:id/cells
func (h *AssessmentHandler) GetAssessmentCells(c *gin.Context) {
	var req model.AssessmentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的评估ID"))
		return
	}

	cells, err := h.assessmentService.GetAssessmentCells(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("assessment_id", req.ID).Error("Failed to get assessment cells")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取评估明细失败",
		))
		return
	}

	infos := make([]model.AssessmentCellInfo, 0, len(cells))
	for _, cell := range cells {
		infos = append(infos, model.AssessmentCellInfo{
			RowIndex:    cell.RowIndex,
			SearchQuery: cell.SearchQuery,
			Result:      cell.Result,
			Error:       cell.Error,
			TokenCount:  cell.TokenCount,
			Sources:     decodeSources(cell),
		})
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.AssessmentCellsResponse{
		AssessmentID: req.ID,
		Total:        len(infos),
		Cells:        infos,
	}))
}

// DeleteAssessment 删除评估任务
// DELETE /api/assessments/:id
func (h *AssessmentHandler) DeleteAssessment(c *gin.Context) {
	var req model.AssessmentIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(http.StatusBadRequest, "无效的评估ID"))
		return
	}

	if err := h.assessmentService.DeleteAssessment(c.Request.Context(), req.ID); err != nil {
		h.logger.WithError(err).WithField("assessment_id", req.ID).Error("Failed to delete assessment")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除评估任务失败",
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(map[string]interface{}{
		"success":       true,
		"assessment_id": req.ID,
	}))
}

// decodeSources 解析单元格引用的知识库分块
func decodeSources(cell *models.AssessmentCell) []models.Source {
	if len(cell.Sources) == 0 {
		return nil
	}

	var sources []models.Source
	if err := json.Unmarshal(cell.Sources, &sources); err != nil {
		return nil
	}
	return sources
}
