package llm

import "fmt"

// 大模型调用错误码
const (
	ErrCodeInvalidAPIKey  = 1001 // API密钥无效
	ErrCodeInvalidRequest = 1002 // 请求参数非法
	ErrCodeNetworkError   = 1003 // 网络错误
	ErrCodeRateLimited    = 1004 // 触发限流
	ErrCodeServerError    = 1005 // 服务端错误
	ErrCodeTimeout        = 1006 // 调用超时
	ErrCodeEmptyPrompt    = 1007 // 提示词为空
)

// 常用错误消息
const (
	ErrMsgInvalidAPIKey = "invalid API key"
	ErrMsgEmptyPrompt   = "prompt cannot be empty"
	ErrMsgRateLimited   = "too many requests, rate limit exceeded"
)

// LLMError 大模型调用错误
// 携带错误码，便于调用方区分可重试错误
type LLMError struct {
	Code    int
	Message string
}

func (e LLMError) Error() string {
	return fmt.Sprintf("llm error (code=%d): %s", e.Code, e.Message)
}

// Retryable 判断该错误是否值得重试
// 限流、网络和服务端错误可重试，参数类错误不行
func (e LLMError) Retryable() bool {
	switch e.Code {
	case ErrCodeRateLimited, ErrCodeNetworkError, ErrCodeServerError, ErrCodeTimeout:
		return true
	}
	return false
}

// NewLLMError 创建大模型错误
func NewLLMError(code int, message string) LLMError {
	return LLMError{Code: code, Message: message}
}
