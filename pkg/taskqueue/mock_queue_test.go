package taskqueue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockQueue Queue接口的mock实现，用于单元测试
type MockQueue struct {
	mock.Mock
}

// MockQueueExpecter 提供类型化的期望设置入口
type MockQueueExpecter struct {
	mock *mock.Mock
}

// EXPECT 返回期望设置器
func (m *MockQueue) EXPECT() *MockQueueExpecter {
	return &MockQueueExpecter{mock: &m.Mock}
}

func (m *MockQueue) Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error) {
	args := m.Called(ctx, taskType, documentID, payload)
	return args.String(0), args.Error(1)
}

func (e *MockQueueExpecter) Enqueue(ctx interface{}, taskType interface{}, documentID interface{}, payload interface{}) *mock.Call {
	return e.mock.On("Enqueue", ctx, taskType, documentID, payload)
}

func (m *MockQueue) EnqueueAt(ctx context.Context, taskType TaskType, documentID string, payload interface{}, processAt time.Time) (string, error) {
	args := m.Called(ctx, taskType, documentID, payload, processAt)
	return args.String(0), args.Error(1)
}

func (e *MockQueueExpecter) EnqueueAt(ctx interface{}, taskType interface{}, documentID interface{}, payload interface{}, processAt interface{}) *mock.Call {
	return e.mock.On("EnqueueAt", ctx, taskType, documentID, payload, processAt)
}

func (m *MockQueue) EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	args := m.Called(ctx, taskType, documentID, payload, delay)
	return args.String(0), args.Error(1)
}

func (e *MockQueueExpecter) EnqueueIn(ctx interface{}, taskType interface{}, documentID interface{}, payload interface{}, delay interface{}) *mock.Call {
	return e.mock.On("EnqueueIn", ctx, taskType, documentID, payload, delay)
}

func (m *MockQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	args := m.Called(ctx, taskID)
	if task, ok := args.Get(0).(*Task); ok {
		return task, args.Error(1)
	}
	return nil, args.Error(1)
}

func (e *MockQueueExpecter) GetTask(ctx interface{}, taskID interface{}) *mock.Call {
	return e.mock.On("GetTask", ctx, taskID)
}

func (m *MockQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error) {
	args := m.Called(ctx, documentID)
	if tasks, ok := args.Get(0).([]*Task); ok {
		return tasks, args.Error(1)
	}
	return nil, args.Error(1)
}

func (e *MockQueueExpecter) GetTasksByDocument(ctx interface{}, documentID interface{}) *mock.Call {
	return e.mock.On("GetTasksByDocument", ctx, documentID)
}

func (m *MockQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	args := m.Called(ctx, taskID, timeout)
	if task, ok := args.Get(0).(*Task); ok {
		return task, args.Error(1)
	}
	return nil, args.Error(1)
}

func (e *MockQueueExpecter) WaitForTask(ctx interface{}, taskID interface{}, timeout interface{}) *mock.Call {
	return e.mock.On("WaitForTask", ctx, taskID, timeout)
}

func (m *MockQueue) DeleteTask(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (e *MockQueueExpecter) DeleteTask(ctx interface{}, taskID interface{}) *mock.Call {
	return e.mock.On("DeleteTask", ctx, taskID)
}

func (m *MockQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errorMsg string) error {
	args := m.Called(ctx, taskID, status, result, errorMsg)
	return args.Error(0)
}

func (e *MockQueueExpecter) UpdateTaskStatus(ctx interface{}, taskID interface{}, status interface{}, result interface{}, errorMsg interface{}) *mock.Call {
	return e.mock.On("UpdateTaskStatus", ctx, taskID, status, result, errorMsg)
}

func (m *MockQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (e *MockQueueExpecter) NotifyTaskUpdate(ctx interface{}, taskID interface{}) *mock.Call {
	return e.mock.On("NotifyTaskUpdate", ctx, taskID)
}

func (m *MockQueue) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (e *MockQueueExpecter) Close() *mock.Call {
	return e.mock.On("Close")
}
