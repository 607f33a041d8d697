package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/doc-assess-system/internal/models"
	"github.com/fyerfyer/doc-assess-system/internal/vectordb"
	"github.com/fyerfyer/doc-assess-system/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryQueue 测试用的内存任务队列
type memoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*taskqueue.Task
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{tasks: make(map[string]*taskqueue.Task)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}) (string, error) {
	data, err := taskqueue.MarshalPayload(payload)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task := &taskqueue.Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		DocumentID: documentID,
		Status:     taskqueue.StatusPending,
		Payload:    data,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	q.tasks[task.ID] = task
	return task.ID, nil
}

func (q *memoryQueue) EnqueueAt(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}, processAt time.Time) (string, error) {
	return q.Enqueue(ctx, taskType, documentID, payload)
}

func (q *memoryQueue) EnqueueIn(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	return q.Enqueue(ctx, taskType, documentID, payload)
}

func (q *memoryQueue) GetTask(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, taskqueue.ErrTaskNotFound
	}
	return task, nil
}

func (q *memoryQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*taskqueue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tasks []*taskqueue.Task
	for _, task := range q.tasks {
		if task.DocumentID == documentID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (q *memoryQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	return q.GetTask(ctx, taskID)
}

func (q *memoryQueue) DeleteTask(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, taskID)
	return nil
}

func (q *memoryQueue) UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return taskqueue.ErrTaskNotFound
	}

	task.Status = status
	task.Error = errorMsg
	task.UpdatedAt = time.Now()
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		task.Result = data
	}
	return nil
}

func (q *memoryQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error {
	return nil
}

func (q *memoryQueue) Close() error {
	return nil
}

// findTaskByType 查找指定类型的任务
func (q *memoryQueue) findTaskByType(taskType taskqueue.TaskType) *taskqueue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		if task.Type == taskType {
			return task
		}
	}
	return nil
}

// setupWorkerTestEnv 创建流水线处理器测试环境
func setupWorkerTestEnv(t *testing.T) (*PipelineTaskHandler, *DocumentService, *memoryQueue, *DocumentStatusManager) {
	tempDir := t.TempDir()
	docService, _, statusManager, store := setupDocumentTestEnv(t, tempDir)

	queue := newMemoryQueue()
	handler := NewPipelineTaskHandler(docService, queue, nil)

	// setupDocumentTestEnv已经初始化了仓储和状态管理器
	_ = store
	return handler, docService, queue, statusManager
}

// TestPipelineHandlerTaskTypes 测试处理器声明的任务类型
func TestPipelineHandlerTaskTypes(t *testing.T) {
	handler, _, _, _ := setupWorkerTestEnv(t)

	types := handler.GetTaskTypes()
	assert.Contains(t, types, taskqueue.TaskDocumentConvert)
	assert.Contains(t, types, taskqueue.TaskDocumentParse)
	assert.Contains(t, types, taskqueue.TaskTextChunk)
	assert.Contains(t, types, taskqueue.TaskEmbed)
	assert.Contains(t, types, taskqueue.TaskProcessComplete)
}

// TestPipelineProcessComplete 测试完整流程任务的执行
func TestPipelineProcessComplete(t *testing.T) {
	tempDir := t.TempDir()
	docService, vectorDB, statusManager, store := setupDocumentTestEnv(t, tempDir)
	queue := newMemoryQueue()
	handler := NewPipelineTaskHandler(docService, queue, nil)
	ctx := context.Background()

	content := "# 流水线文档\n\n第一段内容。\n\n第二段内容。"
	fileID, filePath := uploadTestFile(t, store, statusManager, "pipeline.md", content)
	require.NoError(t, statusManager.MarkAsProcessing(ctx, fileID))

	payload, err := json.Marshal(taskqueue.ProcessCompletePayload{
		DocumentID: fileID,
		FilePath:   filePath,
		FileName:   "pipeline.md",
		FileType:   "md",
		SoftLimit:  300,
		HardLimit:  800,
	})
	require.NoError(t, err)

	taskID, err := queue.Enqueue(ctx, taskqueue.TaskProcessComplete, fileID, nil)
	require.NoError(t, err)
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	task.Payload = payload

	err = handler.ProcessTask(ctx, task)
	require.NoError(t, err)

	// 文档应处理完成
	doc, err := statusManager.GetDocument(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	assert.Equal(t, "流水线文档", doc.Title)
	assert.Greater(t, doc.ChunkCount, 0)

	// 向量应已入库
	results, err := vectorDB.Search([]float32{1, 0, 0, 0}, vectordb.SearchFilter{
		DocumentIDs: []string{fileID},
		MaxResults:  10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// 任务结果应记录各阶段状态
	stored, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	var result taskqueue.ProcessCompleteResult
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	assert.Equal(t, "completed", result.ParseStatus)
	assert.Equal(t, "completed", result.ChunkStatus)
	assert.Equal(t, "completed", result.EmbedStatus)
	assert.Equal(t, doc.ChunkCount, result.ChunkCount)
}

// TestPipelineProcessCompleteFailure 测试流程失败时的状态
func TestPipelineProcessCompleteFailure(t *testing.T) {
	handler, _, queue, statusManager := setupWorkerTestEnv(t)
	ctx := context.Background()

	docID := "pipeline-missing"
	require.NoError(t, statusManager.MarkAsUploaded(ctx, docID, "ghost.md", "/no/such.md", 1))
	require.NoError(t, statusManager.MarkAsProcessing(ctx, docID))

	payload, err := json.Marshal(taskqueue.ProcessCompletePayload{
		DocumentID: docID,
		FilePath:   "/no/such.md",
	})
	require.NoError(t, err)

	taskID, err := queue.Enqueue(ctx, taskqueue.TaskProcessComplete, docID, nil)
	require.NoError(t, err)
	task, _ := queue.GetTask(ctx, taskID)
	task.Payload = payload

	err = handler.ProcessTask(ctx, task)
	require.Error(t, err)

	status, err := statusManager.GetStatus(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, status)

	// 失败阶段应体现在任务结果中
	stored, _ := queue.GetTask(ctx, taskID)
	var result taskqueue.ProcessCompleteResult
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	assert.Equal(t, "failed", result.ParseStatus)
	assert.NotEmpty(t, result.Error)
}

// TestPipelineChunkAndEmbed 测试分块任务链式触发向量化
func TestPipelineChunkAndEmbed(t *testing.T) {
	handler, docService, queue, statusManager := setupWorkerTestEnv(t)
	ctx := context.Background()

	docID := "pipeline-chunk-doc"
	require.NoError(t, statusManager.MarkAsUploaded(ctx, docID, "chunk.md", "/chunk.md", 1))
	require.NoError(t, statusManager.MarkAsProcessing(ctx, docID))

	payload, err := json.Marshal(taskqueue.TextChunkPayload{
		DocumentID: docID,
		Content:    "# 分块标题\n\n这是正文段落。",
		SoftLimit:  300,
		HardLimit:  800,
	})
	require.NoError(t, err)

	taskID, err := queue.Enqueue(ctx, taskqueue.TaskTextChunk, docID, nil)
	require.NoError(t, err)
	task, _ := queue.GetTask(ctx, taskID)
	task.Payload = payload

	err = handler.ProcessTask(ctx, task)
	require.NoError(t, err)

	// 分块记录应已落库
	chunks, err := docService.GetDocumentChunks(ctx, docID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.NotEmpty(t, chunks[0].Reason)

	// 应产生向量化任务
	embedTask := queue.findTaskByType(taskqueue.TaskEmbed)
	require.NotNil(t, embedTask, "Chunk task should enqueue an embed task")

	var embedPayload taskqueue.EmbedPayload
	require.NoError(t, json.Unmarshal(embedTask.Payload, &embedPayload))
	assert.Equal(t, docID, embedPayload.DocumentID)
	assert.Len(t, embedPayload.Chunks, len(chunks))

	// 执行向量化任务并检查结果
	err = handler.ProcessTask(ctx, embedTask)
	require.NoError(t, err)

	stored, _ := queue.GetTask(ctx, embedTask.ID)
	var embedResult taskqueue.EmbedResult
	require.NoError(t, json.Unmarshal(stored.Result, &embedResult))
	assert.Equal(t, len(chunks), embedResult.VectorCount)
	assert.Equal(t, 4, embedResult.Dimension)
}

// TestPipelineUnsupportedTaskType 测试不支持的任务类型
func TestPipelineUnsupportedTaskType(t *testing.T) {
	handler, _, _, _ := setupWorkerTestEnv(t)

	err := handler.ProcessTask(context.Background(), &taskqueue.Task{
		ID:   "bad-task",
		Type: taskqueue.TaskType("unknown"),
	})
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%v", err), "unsupported task type")
}
