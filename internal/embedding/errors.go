package embedding

import "fmt"

// 嵌入调用错误码
const (
	ErrCodeInvalidAPIKey  = 1001 // API密钥无效
	ErrCodeInvalidRequest = 1002 // 请求参数非法
	ErrCodeNetworkError   = 1003 // 网络错误
	ErrCodeRateLimited    = 1004 // 触发限流
	ErrCodeServerError    = 1005 // 服务端错误
	ErrCodeTimeout        = 1006 // 调用超时
	ErrCodeEmptyInput     = 1007 // 输入文本为空
	ErrCodeBatchTooLarge  = 1008 // 批量大小超出提供商限制
)

// 常用错误消息
const (
	ErrMsgInvalidAPIKey = "invalid API key"
	ErrMsgEmptyInput    = "input text cannot be empty"
	ErrMsgRateLimited   = "too many requests, rate limit exceeded"
	ErrMsgServerError   = "server error occurred"
	ErrMsgBatchTooLarge = "batch size exceeds provider limit"
)

// EmbeddingError 嵌入服务调用错误
type EmbeddingError struct {
	Code    int
	Message string
}

func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// NewEmbeddingError 创建嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{Code: code, Message: message}
}
