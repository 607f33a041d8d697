package taskqueue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// 回调处理器进程内共享，文档服务注册处理函数，API层分发回调
var (
	callbackOnce      sync.Once
	callbackSingleton *CallbackProcessor
)

// GetSharedCallbackProcessor 返回进程级单例的回调处理器
// 首次调用时以给定的队列和日志器初始化，后续调用忽略入参
func GetSharedCallbackProcessor(queue Queue, logger *logrus.Logger) *CallbackProcessor {
	callbackOnce.Do(func() {
		callbackSingleton = NewCallbackProcessor(queue, logger)
	})
	return callbackSingleton
}
