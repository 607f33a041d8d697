package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/doc-assess-system/api"
	"github.com/fyerfyer/doc-assess-system/api/handler"
	"github.com/fyerfyer/doc-assess-system/api/middleware"
	appconfig "github.com/fyerfyer/doc-assess-system/config"
	"github.com/fyerfyer/doc-assess-system/internal/cache"
	"github.com/fyerfyer/doc-assess-system/internal/convert"
	"github.com/fyerfyer/doc-assess-system/internal/database"
	"github.com/fyerfyer/doc-assess-system/internal/document"
	"github.com/fyerfyer/doc-assess-system/internal/embedding"
	"github.com/fyerfyer/doc-assess-system/internal/llm"
	"github.com/fyerfyer/doc-assess-system/internal/prompt"
	"github.com/fyerfyer/doc-assess-system/internal/repository"
	"github.com/fyerfyer/doc-assess-system/internal/services"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/fyerfyer/doc-assess-system/pkg/storage"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	mode := flag.String("mode", "release", "Run mode (debug/release)")
	flag.Parse()

	// .env文件用于本地开发时注入API密钥等敏感配置
	_ = godotenv.Load()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	gin.SetMode(*mode)

	logger := setupLogger(cfg.Log)
	logger.Info("Starting document assessment system...")

	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	fileStorage, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	vectorDB, err := setupVectorDB(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize vector database: %v", err)
	}
	defer vectorDB.Close()

	embeddingClient, err := setupEmbedding(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}

	llmClient, err := setupLLM(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize LLM client: %v", err)
	}

	cacheService, err := setupCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	promptCfg, err := setupPrompt(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to load prompt config: %v", err)
	}

	// 任务队列（可选）
	var queue taskqueue.Queue
	var queueCfg *taskqueue.Config
	if cfg.Queue.Enable {
		queueCfg = &taskqueue.Config{
			RedisAddr:     cfg.Queue.RedisAddr,
			RedisPassword: cfg.Queue.RedisPassword,
			RedisDB:       cfg.Queue.RedisDB,
			Concurrency:   cfg.Queue.Concurrency,
			RetryLimit:    cfg.Queue.RetryLimit,
			RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
		}
		queue, err = taskqueue.NewQueue("redis", queueCfg)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized")
	}

	// 分块器是整条入库流水线的核心
	chunker := document.NewMarkdownChunker(document.ChunkerConfig{
		SoftLimit: cfg.Document.SoftLimit,
		HardLimit: cfg.Document.HardLimit,
	})

	var repo repository.DocumentRepository
	if queue != nil {
		repo = repository.NewDocumentRepositoryWithQueue(database.MustDB(), queue)
	} else {
		repo = repository.NewDocumentRepository()
	}

	statusManager := services.NewDocumentStatusManager(repo, logger)

	documentServiceOptions := []services.DocumentOption{
		services.WithDocumentRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithBatchSize(cfg.Embed.BatchSize),
		services.WithLogger(logger),
	}

	// 外部转换服务覆盖解析器不支持的格式(docx等)
	if cfg.Convert.Enable {
		convertClient, err := convert.NewClient(&convert.Config{
			BaseURL:    cfg.Convert.BaseURL,
			APIKey:     cfg.Convert.APIKey,
			Timeout:    cfg.Convert.Timeout,
			MaxRetries: cfg.Convert.MaxRetries,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize convert client: %v", err)
		}
		documentServiceOptions = append(documentServiceOptions,
			services.WithConverter(convert.NewConverter(convertClient)))
		logger.Info("External document conversion enabled")
	}

	if queue != nil {
		documentServiceOptions = append(documentServiceOptions,
			services.WithTaskQueue(queue),
			services.WithAsyncProcessing(true),
		)
	}

	documentService := services.NewDocumentService(
		fileStorage,
		chunker,
		embeddingClient,
		vectorDB,
		documentServiceOptions...,
	)

	assessmentOptions := []services.AssessmentOption{
		services.WithAssessmentLogger(logger),
		services.WithAssessmentWorkers(cfg.Assessment.Workers),
		services.WithTopK(cfg.Assessment.TopK),
		services.WithMinScore(cfg.Search.MinScore),
		services.WithResultDir(cfg.Assessment.ResultDir),
	}
	if cfg.Cache.Enable {
		assessmentOptions = append(assessmentOptions, services.WithAssessmentCache(cacheService))
	}
	if queue != nil {
		assessmentOptions = append(assessmentOptions, services.WithAssessmentQueue(queue))
	}

	assessmentService := services.NewAssessmentService(
		repository.NewAssessmentRepository(),
		embeddingClient,
		vectorDB,
		llm.NewGrader(llmClient,
			llm.WithGraderMaxTokens(cfg.LLM.MaxTokens),
			llm.WithGraderTemperature(cfg.LLM.Temperature),
		),
		promptCfg,
		assessmentOptions...,
	)

	// 队列模式下在本进程内启动worker处理流水线和评估任务
	var worker taskqueue.Worker
	if queue != nil {
		documentService.EnableAsyncProcessing(queue)

		if redisQueue, ok := queue.(*taskqueue.RedisQueue); ok {
			worker = taskqueue.NewRedisWorker(redisQueue, queueCfg)

			pipelineHandler := services.NewPipelineTaskHandler(documentService, queue, logger)
			for _, taskType := range pipelineHandler.GetTaskTypes() {
				worker.RegisterHandler(taskType, pipelineHandler)
			}

			assessmentHandler := services.NewAssessmentTaskHandler(assessmentService, queue, logger)
			for _, taskType := range assessmentHandler.GetTaskTypes() {
				worker.RegisterHandler(taskType, assessmentHandler)
			}

			go func() {
				if err := worker.Start(); err != nil {
					logger.Errorf("Task worker stopped: %v", err)
				}
			}()
			defer worker.Stop()
			logger.Info("Task worker started")
		}
	}

	// API处理器和路由
	docHandler := handler.NewDocumentHandler(documentService, fileStorage)
	assessHandler := handler.NewAssessmentHandler(assessmentService, fileStorage)
	searchHandler := handler.NewSearchHandler(embeddingClient, vectorDB)

	var taskHandler *handler.TaskHandler
	if queue != nil {
		taskHandler = handler.NewTaskHandler(queue)
	}

	router := api.SetupRouter(docHandler, assessHandler, searchHandler, taskHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// setupLogger 设置日志系统
// 配置了日志文件时同时输出到stdout和滚动日志文件
func setupLogger(cfg appconfig.LogConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *appconfig.Config, logger *logrus.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %v", err)
	}

	return database.Setup(&database.Config{
		Type: cfg.Database.Type,
		DSN:  cfg.Database.DSN,
	}, logger)
}

// setupStorage 设置文件存储服务
func setupStorage(cfg *appconfig.Config) (storage.Storage, error) {
	if cfg.Storage.Type == "local" || cfg.Storage.Type == "" {
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %v", err)
		}
	}

	return storage.NewStorage(&storage.Config{
		Type:      cfg.Storage.Type,
		LocalPath: cfg.Storage.Path,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
}

// setupVectorDB 设置向量数据库
// faiss初始化失败时回退到内存实现
func setupVectorDB(cfg *appconfig.Config, logger *logrus.Logger) (vectordb.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.VectorDB.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector database directory: %v", err)
	}

	repo, err := vectordb.NewRepository(vectordb.Config{
		Type:              cfg.VectorDB.Type,
		Path:              cfg.VectorDB.Path,
		Dimension:         cfg.VectorDB.Dim,
		DistanceType:      vectordb.DistanceType(cfg.VectorDB.Distance),
		CreateIfNotExists: true,
	})
	if err != nil {
		logger.Warnf("Failed to initialize %s vector database: %v, falling back to memory", cfg.VectorDB.Type, err)
		return vectordb.NewRepository(vectordb.Config{
			Type:         "memory",
			Dimension:    cfg.VectorDB.Dim,
			DistanceType: vectordb.Cosine,
		})
	}

	return repo, nil
}

// setupEmbedding 设置嵌入模型客户端
func setupEmbedding(cfg *appconfig.Config) (embedding.Client, error) {
	if cfg.Embed.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}

	return embedding.NewClient(cfg.Embed.Provider,
		embedding.WithAPIKey(cfg.Embed.APIKey),
		embedding.WithBaseURL(cfg.Embed.Endpoint),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	)
}

// setupLLM 设置大语言模型客户端
func setupLLM(cfg *appconfig.Config) (llm.Client, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}

	return llm.NewClient(cfg.LLM.Provider,
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithBaseURL(cfg.LLM.Endpoint),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
	)
}

// setupCache 设置缓存服务
func setupCache(cfg *appconfig.Config) (cache.Cache, error) {
	return cache.NewCache(cache.Config{
		Type:          cfg.Cache.Type,
		RedisAddr:     cfg.Cache.Address,
		RedisPassword: cfg.Cache.Password,
		RedisDB:       cfg.Cache.DB,
		DefaultTTL:    time.Duration(cfg.Cache.TTL) * time.Second,
	})
}

// setupPrompt 加载评估提示词配置
// 配置文件不存在时使用内置的默认提示词
func setupPrompt(cfg *appconfig.Config, logger *logrus.Logger) (*prompt.Config, error) {
	promptCfg, err := prompt.Load(cfg.Assessment.PromptPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warnf("Prompt config not found at %s, using defaults", cfg.Assessment.PromptPath)
			return prompt.DefaultConfig(), nil
		}
		return nil, err
	}
	return promptCfg, nil
}
