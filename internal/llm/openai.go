package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI大模型客户端实现
// 也适用于任何OpenAI兼容的聊天补全服务
type OpenAIClient struct {
	client *openai.Client
	config *Config
}

// NewOpenAIClient 创建新的OpenAI大模型客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	// 未显式指定模型时使用OpenAI默认模型
	if cfg.Model == "" || cfg.Model == DefaultConfig().Model {
		cfg.Model = ModelGPT4oMini
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.config.Model
}

// Generate 根据提示词生成回答
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...CallOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	messages := []Message{{Role: RoleUser, Content: prompt}}
	return c.Chat(ctx, messages, options...)
}

// Chat 进行多轮对话
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, options ...CallOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeInvalidRequest, "messages cannot be empty")
	}

	opts := applyCallOptions(options)

	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	// 调用级选项优先于客户端级配置
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	} else if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	} else if c.config.Temperature > 0 {
		req.Temperature = c.config.Temperature
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	} else if c.config.TopP > 0 {
		req.TopP = c.config.TopP
	}

	// 带指数退避的重试
	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewLLMError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		resp, err = c.client.CreateChatCompletion(timeoutCtx, req)
		cancel()

		if err == nil {
			break
		}
		if !isRetryableError(err) {
			return nil, NewLLMError(ErrCodeServerError,
				fmt.Sprintf("chat completion API error: %v", err))
		}
	}
	if err != nil {
		return nil, NewLLMError(ErrCodeRateLimited, ErrMsgRateLimited)
	}

	if len(resp.Choices) == 0 {
		return nil, NewLLMError(ErrCodeServerError, "empty response from API")
	}

	choice := resp.Choices[0]
	return &Response{
		Text: choice.Message.Content,
		Messages: []Message{{
			Role:    MessageRole(choice.Message.Role),
			Content: choice.Message.Content,
		}},
		TokenCount: resp.Usage.TotalTokens,
		ModelName:  c.config.Model,
		FinishTime: time.Now(),
	}, nil
}

// isRetryableError 检查是否为可重试的错误
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "timeout")
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
