package api

import (
	"github.com/fyerfyer/doc-assess-system/api/handler"
	"github.com/fyerfyer/doc-assess-system/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	docHandler *handler.DocumentHandler,
	assessHandler *handler.AssessmentHandler,
	searchHandler *handler.SearchHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(middleware.SetTraceID())
	router.Use(Cors())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	api := router.Group("/api")
	{
		// 文档管理API
		docGroup := api.Group("/documents")
		{
			// 上传文档 - POST /api/documents
			docGroup.POST("", docHandler.UploadDocument)

			// 获取文档列表 - GET /api/documents
			docGroup.GET("", docHandler.ListDocuments)

			// 获取文档状态 - GET /api/documents/:id/status
			docGroup.GET("/:id/status", docHandler.GetDocumentStatus)

			// 获取文档分块 - GET /api/documents/:id/chunks
			docGroup.GET("/:id/chunks", docHandler.GetDocumentChunks)

			// 更新文档标签 - PUT /api/documents/:id/tags
			docGroup.PUT("/:id/tags", docHandler.UpdateDocumentTags)

			// 获取文档任务 - GET /api/documents/:id/tasks
			if taskHandler != nil {
				docGroup.GET("/:id/tasks", taskHandler.GetDocumentTasks)
			}

			// 删除文档 - DELETE /api/documents/:id
			docGroup.DELETE("/:id", docHandler.DeleteDocument)
		}

		// 评估任务API
		assessGroup := api.Group("/assessments")
		{
			// 创建评估任务 - POST /api/assessments
			assessGroup.POST("", assessHandler.CreateAssessment)

			// 获取评估列表 - GET /api/assessments
			assessGroup.GET("", assessHandler.ListAssessments)

			// 执行评估任务 - POST /api/assessments/:id/run
			assessGroup.POST("/:id/run", assessHandler.RunAssessment)

			// 获取评估详情 - GET /api/assessments/:id
			assessGroup.GET("/:id", assessHandler.GetAssessment)

			// 获取评估单元格明细 - GET /api/assessments/:id/cells
			assessGroup.GET("/:id/cells", assessHandler.GetAssessmentCells)

			// 删除评估任务 - DELETE /api/assessments/:id
			assessGroup.DELETE("/:id", assessHandler.DeleteAssessment)
		}

		// 知识库搜索API
		api.POST("/search", searchHandler.Search)

		// 任务API
		if taskHandler != nil {
			taskGroup := api.Group("/tasks")
			{
				// 任务回调 - POST /api/tasks/callback
				taskGroup.POST("/callback", taskHandler.HandleCallback)

				// 获取任务状态 - GET /api/tasks/:id
				taskGroup.GET("/:id", taskHandler.GetTaskStatus)
			}
		}
	}

	// 健康检查端点
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Trace-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
