package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingClient 记录收到消息的测试客户端
type recordingClient struct {
	lastMessages []Message
	reply        string
}

func (c *recordingClient) Generate(ctx context.Context, prompt string, options ...CallOption) (*Response, error) {
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, options...)
}

func (c *recordingClient) Chat(ctx context.Context, messages []Message, options ...CallOption) (*Response, error) {
	c.lastMessages = messages
	return &Response{Text: c.reply, ModelName: c.Name(), TokenCount: 10}, nil
}

func (c *recordingClient) Name() string { return "recording" }

// TestGraderGrade 测试评估流程
func TestGraderGrade(t *testing.T) {
	t.Run("placeholders substituted", func(t *testing.T) {
		client := &recordingClient{reply: "符合要求"}
		grader := NewGrader(client,
			WithSystemPrompt("你是评审专家"),
			WithGradeRule("评估项: {search_query}\n材料:\n{context}"),
		)

		result, err := grader.Grade(context.Background(), GradeRequest{
			SearchQuery: "数据加密 安全要求",
			Contexts:    []string{"所有数据均使用AES-256加密", "密钥每90天轮换"},
		})
		require.NoError(t, err)
		assert.Equal(t, "符合要求", result.Text)

		require.Len(t, client.lastMessages, 2)
		assert.Equal(t, RoleSystem, client.lastMessages[0].Role)
		assert.Equal(t, "你是评审专家", client.lastMessages[0].Content)

		prompt := client.lastMessages[1].Content
		assert.Contains(t, prompt, "数据加密 安全要求", "检索查询占位符应被替换")
		assert.Contains(t, prompt, "【1】所有数据均使用AES-256加密", "上下文应逐条编号")
		assert.Contains(t, prompt, "【2】密钥每90天轮换")
		assert.NotContains(t, prompt, PlaceholderSearchQuery)
		assert.NotContains(t, prompt, PlaceholderContext)
	})

	t.Run("request rule overrides default", func(t *testing.T) {
		client := &recordingClient{reply: "ok"}
		grader := NewGrader(client, WithGradeRule("default rule {search_query}"))

		_, err := grader.Grade(context.Background(), GradeRequest{
			SearchQuery: "item",
			Rule:        "column rule {search_query}",
		})
		require.NoError(t, err)
		assert.Contains(t, client.lastMessages[0].Content, "column rule item",
			"请求级规则应覆盖默认规则")
	})

	t.Run("context appended when rule has no placeholder", func(t *testing.T) {
		client := &recordingClient{reply: "ok"}
		grader := NewGrader(client, WithGradeRule("评估{search_query}"))

		_, err := grader.Grade(context.Background(), GradeRequest{
			SearchQuery: "item",
			Contexts:    []string{"some evidence"},
		})
		require.NoError(t, err)
		prompt := client.lastMessages[0].Content
		assert.Contains(t, prompt, "参考材料:", "规则未引用上下文时应追加在末尾")
		assert.Contains(t, prompt, "some evidence")
	})

	t.Run("no system prompt means single message", func(t *testing.T) {
		client := &recordingClient{reply: "ok"}
		grader := NewGrader(client)

		_, err := grader.Grade(context.Background(), GradeRequest{SearchQuery: "item"})
		require.NoError(t, err)
		require.Len(t, client.lastMessages, 1)
		assert.Equal(t, RoleUser, client.lastMessages[0].Role)
	})

	t.Run("empty search query rejected", func(t *testing.T) {
		grader := NewGrader(&recordingClient{})

		_, err := grader.Grade(context.Background(), GradeRequest{})
		var llmErr LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, ErrCodeEmptyPrompt, llmErr.Code)
	})
}

// TestFormatContext 测试上下文格式化
func TestFormatContext(t *testing.T) {
	formatted := formatContext([]string{"first", "", "third"})

	assert.True(t, strings.HasPrefix(formatted, "【1】first"))
	assert.Contains(t, formatted, "【3】third", "空上下文跳过但编号保持原位")
	assert.Empty(t, formatContext(nil))
}
