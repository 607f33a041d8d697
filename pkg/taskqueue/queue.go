package taskqueue

import (
	"context"
	"encoding/json"
	"time"
)

// 队列相关错误
var (
	ErrTaskNotFound   = TaskError("task not found")
	ErrTaskTimeout    = TaskError("task timed out")
	ErrInvalidPayload = TaskError("invalid task payload")
)

// TaskError 队列错误类型，支持errors.Is比较
type TaskError string

func (e TaskError) Error() string {
	return string(e)
}

// Queue 任务队列接口
// 入库流水线和评估任务都经由该接口入队和查询
type Queue interface {
	// Enqueue 立即入队
	Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error)

	// EnqueueAt 在指定时间入队
	EnqueueAt(ctx context.Context, taskType TaskType, documentID string, payload interface{}, processAt time.Time) (string, error)

	// EnqueueIn 延迟入队
	EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error)

	// GetTask 查询任务元信息
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetTasksByDocument 查询文档关联的全部任务
	GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error)

	// WaitForTask 阻塞等待任务进入终态，timeout为0表示不限时
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error)

	// DeleteTask 删除任务及其元信息
	DeleteTask(ctx context.Context, taskID string) error

	// UpdateTaskStatus 更新任务状态
	// result非nil时同时覆盖任务结果
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error

	// NotifyTaskUpdate 广播任务状态变更，唤醒WaitForTask
	NotifyTaskUpdate(ctx context.Context, taskID string) error

	// Close 释放队列连接
	Close() error
}

// Handler 任务处理器，由worker按任务类型分发调用
type Handler interface {
	ProcessTask(ctx context.Context, task *Task) error

	// GetTaskTypes 返回该处理器负责的任务类型
	GetTaskTypes() []TaskType
}

// Worker 消费队列任务的工作者
type Worker interface {
	RegisterHandler(taskType TaskType, handler Handler)
	Start() error
	Stop()
}

// Factory 队列实现的工厂函数
type Factory func(cfg *Config) (Queue, error)

// Config 队列配置
type Config struct {
	RedisAddr     string         // Redis地址
	RedisPassword string         // Redis密码
	RedisDB       int            // Redis数据库编号
	Concurrency   int            // worker并发数
	RetryLimit    int            // 任务最大重试次数
	RetryDelay    time.Duration  // 重试间隔
	Queues        map[string]int // 队列名到权重的映射
}

// DefaultConfig 返回默认队列配置
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:   "localhost:6379",
		RedisDB:     0,
		Concurrency: 10,
		RetryLimit:  3,
		RetryDelay:  time.Minute,
		Queues: map[string]int{
			"critical": 6, // 评估任务
			"default":  3, // 入库流水线任务
			"low":      1, // 其余任务
		},
	}
}

// TaskInfo 对外暴露的任务摘要
type TaskInfo struct {
	ID          string     `json:"id"`
	Type        TaskType   `json:"type"`
	DocumentID  string     `json:"document_id"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Progress    float64    `json:"progress"` // 0-100
}

// NewTaskInfo 从任务生成摘要
func NewTaskInfo(task *Task) *TaskInfo {
	return &TaskInfo{
		ID:          task.ID,
		Type:        task.Type,
		DocumentID:  task.DocumentID,
		Status:      task.Status,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		Progress:    taskProgress(task),
	}
}

// taskProgress 按任务状态估算进度
// 处理中的任务没有细粒度进度上报，统一按一半计
func taskProgress(task *Task) float64 {
	switch task.Status {
	case StatusCompleted:
		return 100.0
	case StatusProcessing, StatusFailed:
		return 50.0
	default:
		return 0.0
	}
}

// MarshalPayload 序列化任务载荷，nil载荷编码为空对象
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(payload)
}

// UnmarshalPayload 反序列化任务载荷，空载荷视为零值
func UnmarshalPayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
