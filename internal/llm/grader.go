package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// 评估提示词中的占位符
// {search_query}会被替换为检索查询，{context}会被替换为检索到的上下文
const (
	PlaceholderSearchQuery = "{search_query}"
	PlaceholderContext     = "{context}"
)

// DefaultGradeRule 默认评估规则模板
const DefaultGradeRule = `请根据以下参考材料，评估"{search_query}"这一项的满足情况。

参考材料:
{context}

请给出结论和简要说明，参考材料中没有相关信息时请明确指出。`

// GraderConfig 评估器配置
type GraderConfig struct {
	SystemPrompt string        // 系统提示词，描述评估者的角色与产出要求
	Rule         string        // 默认评估规则模板
	MaxTokens    int           // 最大生成Token数
	Temperature  float32       // 温度参数
	Timeout      time.Duration // 单次评估超时时间
}

// DefaultGraderConfig 默认评估器配置
func DefaultGraderConfig() *GraderConfig {
	return &GraderConfig{
		Rule:        DefaultGradeRule,
		MaxTokens:   2048,
		Temperature: 0.3,
		Timeout:     60 * time.Second,
	}
}

// GraderOption 评估器配置选项函数类型
type GraderOption func(*GraderConfig)

// WithSystemPrompt 设置系统提示词
func WithSystemPrompt(prompt string) GraderOption {
	return func(c *GraderConfig) {
		c.SystemPrompt = prompt
	}
}

// WithGradeRule 设置默认评估规则模板
func WithGradeRule(rule string) GraderOption {
	return func(c *GraderConfig) {
		c.Rule = rule
	}
}

// WithGraderMaxTokens 设置最大Token数
func WithGraderMaxTokens(tokens int) GraderOption {
	return func(c *GraderConfig) {
		c.MaxTokens = tokens
	}
}

// WithGraderTemperature 设置温度参数
func WithGraderTemperature(temp float32) GraderOption {
	return func(c *GraderConfig) {
		c.Temperature = temp
	}
}

// WithGraderTimeout 设置单次评估超时时间
func WithGraderTimeout(timeout time.Duration) GraderOption {
	return func(c *GraderConfig) {
		c.Timeout = timeout
	}
}

// Grader 文档评估器
// 将检索到的文档上下文与评估规则组装成提示词，交给大模型产出评估结论
type Grader struct {
	Client Client
	config *GraderConfig
	mu     sync.RWMutex
}

// NewGrader 创建新的评估器
func NewGrader(client Client, opts ...GraderOption) *Grader {
	cfg := DefaultGraderConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Grader{
		Client: client,
		config: cfg,
	}
}

// GradeRequest 单次评估请求
type GradeRequest struct {
	SearchQuery string   // 被评估项的检索查询（通常由行列表头拼接而成）
	Rule        string   // 本次评估使用的规则模板，空时使用评估器默认规则
	Contexts    []string // 检索到的文档上下文
}

// GradeResult 单次评估结果
type GradeResult struct {
	Text       string // 评估结论文本
	TokenCount int    // 使用的token数
	ModelName  string // 使用的模型名称
}

// Grade 执行单次评估
func (g *Grader) Grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	if req.SearchQuery == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "search query cannot be empty")
	}

	g.mu.RLock()
	cfg := *g.config
	g.mu.RUnlock()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	prompt := buildGradePrompt(req, cfg.Rule)

	var messages []Message
	if cfg.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: cfg.SystemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	response, err := g.Client.Chat(
		ctxWithTimeout,
		messages,
		WithCallMaxTokens(cfg.MaxTokens),
		WithCallTemperature(cfg.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to grade %q: %w", req.SearchQuery, err)
	}

	return &GradeResult{
		Text:       strings.TrimSpace(response.Text),
		TokenCount: response.TokenCount,
		ModelName:  response.ModelName,
	}, nil
}

// SetSystemPrompt 更新系统提示词
func (g *Grader) SetSystemPrompt(prompt string) *Grader {
	g.mu.Lock()
	g.config.SystemPrompt = prompt
	g.mu.Unlock()
	return g
}

// buildGradePrompt 组装评估提示词
// 规则模板中的占位符被实际的检索查询和上下文替换；
// 模板未引用上下文占位符时，上下文追加在提示词末尾
func buildGradePrompt(req GradeRequest, defaultRule string) string {
	rule := req.Rule
	if rule == "" {
		rule = defaultRule
	}

	formattedContext := formatContext(req.Contexts)

	prompt := rule
	prompt = strings.ReplaceAll(prompt, PlaceholderSearchQuery, req.SearchQuery)

	if strings.Contains(prompt, PlaceholderContext) {
		prompt = strings.ReplaceAll(prompt, PlaceholderContext, formattedContext)
	} else if formattedContext != "" {
		prompt = prompt + "\n\n参考材料:\n" + formattedContext
	}

	return prompt
}

// formatContext 格式化上下文内容，逐条编号
func formatContext(contexts []string) string {
	var sb strings.Builder
	for i, ctx := range contexts {
		if ctx == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("【%d】%s\n\n", i+1, ctx))
	}
	return strings.TrimSpace(sb.String())
}
