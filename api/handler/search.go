package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-assess-system/api/middleware"
	"github.com/fyerfyer/doc-assess-system/api/model"
	"github.com/fyerfyer/doc-assess-system/internal/embedding"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SearchHandler 处理知识库语义搜索请求
type SearchHandler struct {
	embedder embedding.Client   // 向量化客户端
	vectorDB vectordb.Repository // 向量数据库
	logger   *logrus.Logger      // 日志记录器
}

// NewSearchHandler 创建新的搜索处理器
func NewSearchHandler(embedder embedding.Client, vectorDB vectordb.Repository) *SearchHandler {
	return &SearchHandler{
		embedder: embedder,
		vectorDB: vectorDB,
		logger:   middleware.GetLogger(),
	}
}

// Search 对知识库执行语义搜索
// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid search request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的请求参数",
		))
		return
	}

	vector, err := h.embedder.Embed(c.Request.Context(), req.Query)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("查询向量化失败", err))
		return
	}

	filter := vectordb.DefaultSearchFilter()
	filter.DocumentIDs = req.DocumentIDs
	filter.MinScore = req.MinScore
	if req.TopK > 0 {
		filter.MaxResults = req.TopK
	}

	results, err := h.vectorDB.Search(vector, filter)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("检索失败", err))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"query":   req.Query,
		"results": len(results),
	}).Debug("Search completed")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SearchResponse{
		Query:   req.Query,
		Total:   len(results),
		Results: model.ConvertToSearchResults(results),
	}))
}
