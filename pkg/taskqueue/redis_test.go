package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQueue 基于miniredis创建测试队列
func newTestQueue(t *testing.T) Queue {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to create miniredis")
	t.Cleanup(mr.Close)

	queue, err := NewRedisQueue(&Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	return queue
}

func parsePayload() *DocumentParsePayload {
	return &DocumentParsePayload{
		FilePath: "/path/to/document.pdf",
		FileName: "document.pdf",
		FileType: "pdf",
	}
}

func TestNewRedisQueue(t *testing.T) {
	queue := newTestQueue(t)
	assert.NotNil(t, queue)
}

func TestRedisQueue_Enqueue(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentParse, "doc-123", parsePayload())
	assert.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	assert.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskDocumentParse, task.Type)
	assert.Equal(t, "doc-123", task.DocumentID)
	assert.Equal(t, StatusPending, task.Status)
	assert.NotNil(t, task.Payload)
}

func TestRedisQueue_EnqueueAt(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.EnqueueAt(ctx, TaskDocumentParse, "doc-123", parsePayload(), time.Now().Add(time.Second))
	assert.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	assert.NoError(t, err)
	assert.Equal(t, TaskDocumentParse, task.Type)
	assert.Equal(t, StatusPending, task.Status)
}

func TestRedisQueue_EnqueueIn(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.EnqueueIn(ctx, TaskDocumentParse, "doc-123", parsePayload(), time.Second)
	assert.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	assert.NoError(t, err)
	assert.Equal(t, TaskDocumentParse, task.Type)
	assert.Equal(t, StatusPending, task.Status)
}

func TestRedisQueue_GetTasksByDocument(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()
	documentID := "doc-456"

	// 同一文档的三个流水线阶段任务
	enqueues := []struct {
		taskType TaskType
		payload  interface{}
	}{
		{TaskDocumentParse, &DocumentParsePayload{
			FilePath: "/path/to/document1.pdf",
			FileName: "document1.pdf",
			FileType: "pdf",
		}},
		{TaskTextChunk, &TextChunkPayload{
			DocumentID: documentID,
			SoftLimit:  300,
			HardLimit:  800,
		}},
		{TaskEmbed, &EmbedPayload{
			DocumentID: documentID,
			Model:      "default",
		}},
	}
	for _, e := range enqueues {
		_, err := queue.Enqueue(ctx, e.taskType, documentID, e.payload)
		require.NoError(t, err)
	}

	tasks, err := queue.GetTasksByDocument(ctx, documentID)
	assert.NoError(t, err)
	assert.Len(t, tasks, len(enqueues))
	for _, task := range tasks {
		assert.Equal(t, documentID, task.DocumentID)
	}

	emptyTasks, err := queue.GetTasksByDocument(ctx, "non-existent")
	assert.NoError(t, err)
	assert.Empty(t, emptyTasks)
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentParse, "doc-789", parsePayload())
	require.NoError(t, err)

	err = queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, "")
	assert.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	assert.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt)

	// 完成时附带结果
	result := &DocumentParseResult{
		Content: "Parsed content",
		Title:   "Document Title",
		Pages:   5,
		Words:   1000,
		Chars:   5000,
	}
	err = queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, "")
	assert.NoError(t, err)

	task, err = queue.GetTask(ctx, taskID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)
	assert.NotEmpty(t, task.Result)

	// 失败状态记录错误消息
	failTaskID, err := queue.Enqueue(ctx, TaskDocumentParse, "doc-789", parsePayload())
	require.NoError(t, err)

	errorMsg := "Processing failed due to invalid document format"
	err = queue.UpdateTaskStatus(ctx, failTaskID, StatusFailed, nil, errorMsg)
	assert.NoError(t, err)

	failTask, err := queue.GetTask(ctx, failTaskID)
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, failTask.Status)
	assert.Equal(t, errorMsg, failTask.Error)
	assert.NotNil(t, failTask.CompletedAt)
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()
	documentID := "doc-delete-test"

	taskID, err := queue.Enqueue(ctx, TaskDocumentParse, documentID, parsePayload())
	require.NoError(t, err)

	tasks, err := queue.GetTasksByDocument(ctx, documentID)
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)

	err = queue.DeleteTask(ctx, taskID)
	assert.NoError(t, err)

	_, err = queue.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// 文档任务集合同步清理
	tasks, err = queue.GetTasksByDocument(ctx, documentID)
	assert.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRedisQueue_NotifyTaskUpdate(t *testing.T) {
	queue := newTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentParse, "doc-notify", &DocumentParsePayload{})
	require.NoError(t, err)

	err = queue.NotifyTaskUpdate(ctx, taskID)
	assert.NoError(t, err)
}

// mockHandler 测试用任务处理器
type mockHandler struct {
	processFunc func(context.Context, *Task) error
	taskTypes   []TaskType
}

func (h *mockHandler) ProcessTask(ctx context.Context, task *Task) error {
	if h.processFunc != nil {
		return h.processFunc(ctx, task)
	}
	return nil
}

func (h *mockHandler) GetTaskTypes() []TaskType {
	return h.taskTypes
}

// requireLocalRedis 本地无Redis时跳过测试
// worker依赖asynq的阻塞轮询，miniredis不支持
func requireLocalRedis(t *testing.T) string {
	t.Helper()

	redisAddr := "localhost:6379"
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Skipping test: Redis not available at localhost:6379")
	}
	return redisAddr
}

func TestRedisWorker(t *testing.T) {
	redisAddr := requireLocalRedis(t)

	cfg := &Config{
		RedisAddr:   redisAddr,
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	}

	redisQueue, err := NewRedisQueue(cfg)
	require.NoError(t, err)
	defer redisQueue.Close()

	rq, ok := redisQueue.(*RedisQueue)
	require.True(t, ok, "Failed to cast to RedisQueue")

	worker := NewRedisWorker(rq, cfg)
	require.NotNil(t, worker)

	processedTasks := make(map[string]bool)
	worker.RegisterHandler(TaskDocumentParse, &mockHandler{
		processFunc: func(ctx context.Context, task *Task) error {
			processedTasks[task.ID] = true
			time.Sleep(100 * time.Millisecond)
			return nil
		},
		taskTypes: []TaskType{TaskDocumentParse},
	})

	errChan := make(chan error)
	go func() {
		errChan <- worker.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	taskID, err := redisQueue.Enqueue(ctx, TaskDocumentParse, "doc-worker-test", parsePayload())
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	worker.Stop()

	if task, err := redisQueue.GetTask(ctx, taskID); err == nil {
		t.Logf("Task status: %s", task.Status)
	}

	select {
	case err := <-errChan:
		assert.NoError(t, err, "Worker returned error")
	default:
	}
}

// TestIntegration_RealRedis 用真实Redis走一遍任务生命周期
func TestIntegration_RealRedis(t *testing.T) {
	redisAddr := requireLocalRedis(t)

	queue, err := NewRedisQueue(&Config{
		RedisAddr:   redisAddr,
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	})
	require.NoError(t, err)
	defer queue.Close()

	ctx := context.Background()
	documentID := "doc-integration-test"

	payload := &ProcessCompletePayload{
		DocumentID: documentID,
		FilePath:   "/path/to/document.pdf",
		FileName:   "integration-test.pdf",
		FileType:   "pdf",
		SoftLimit:  300,
		HardLimit:  800,
		Model:      "default",
		Metadata: map[string]string{
			"source": "integration-test",
		},
	}

	taskID, err := queue.Enqueue(ctx, TaskProcessComplete, documentID, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	err = queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, "")
	assert.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	result := &ProcessCompleteResult{
		DocumentID:  documentID,
		ChunkCount:  5,
		VectorCount: 5,
		Dimension:   512,
		ParseStatus: "completed",
		ChunkStatus: "completed",
		EmbedStatus: "completed",
	}
	err = queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, "")
	assert.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.Result)
	assert.NotNil(t, task.CompletedAt)

	err = queue.NotifyTaskUpdate(ctx, taskID)
	assert.NoError(t, err)

	completedTask, err := queue.WaitForTask(ctx, taskID, 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, completedTask.Status)

	err = queue.DeleteTask(ctx, taskID)
	assert.NoError(t, err)
}

func TestQueueForTask(t *testing.T) {
	assert.Equal(t, "critical", queueForTask(TaskAssessment), "评估任务应进入高优先级队列")
	assert.Equal(t, "default", queueForTask(TaskDocumentParse))
	assert.Equal(t, "default", queueForTask(TaskTextChunk))
	assert.Equal(t, "default", queueForTask(TaskEmbed))
}

func TestTaskInfo(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-5 * time.Minute)
	completedAt := now.Add(-1 * time.Minute)

	task := &Task{
		ID:          "task-123",
		Type:        TaskDocumentParse,
		DocumentID:  "doc-123",
		Status:      StatusCompleted,
		CreatedAt:   now.Add(-10 * time.Minute),
		UpdatedAt:   now,
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
		Attempts:    1,
		MaxRetries:  3,
	}

	info := NewTaskInfo(task)
	assert.Equal(t, task.ID, info.ID)
	assert.Equal(t, task.Type, info.Type)
	assert.Equal(t, task.DocumentID, info.DocumentID)
	assert.Equal(t, task.Status, info.Status)
	assert.Equal(t, task.CreatedAt, info.CreatedAt)
	assert.Equal(t, task.StartedAt, info.StartedAt)
	assert.Equal(t, task.CompletedAt, info.CompletedAt)
	assert.Equal(t, 100.0, info.Progress)
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}
