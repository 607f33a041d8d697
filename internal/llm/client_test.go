package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigOptions 测试配置选项
func TestConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithAPIKey("test-key"),
		WithBaseURL("http://localhost:8080"),
		WithModel(ModelQwenPlus),
		WithTimeout(10*time.Second),
		WithMaxRetries(5),
		WithMaxTokens(2048),
		WithTemperature(0.5),
		WithTopP(0.8),
	)

	assert.Equal(t, "test-key", cfg.APIKey)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, ModelQwenPlus, cfg.Model)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, float32(0.5), cfg.Temperature)
	assert.Equal(t, float32(0.8), cfg.TopP)
}

// TestClientRegistry 测试客户端注册机制
func TestClientRegistry(t *testing.T) {
	t.Run("registered providers", func(t *testing.T) {
		for _, name := range []string{"openai", "dashscope"} {
			client, err := NewClient(name, WithAPIKey("test-key"))
			require.NoError(t, err, "已注册的提供方%s应能创建客户端", name)
			assert.NotNil(t, client)
			assert.NotEmpty(t, client.Name())
		}
	})

	t.Run("unregistered provider", func(t *testing.T) {
		_, err := NewClient("nonexistent", WithAPIKey("test-key"))
		require.Error(t, err)

		var llmErr LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, ErrCodeInvalidRequest, llmErr.Code)
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewClient("dashscope")
		require.Error(t, err, "缺少API密钥应返回错误")
	})
}

// TestDashScopeChat 测试DashScope对话请求
func TestDashScopeChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req DashScopeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Input)
		require.Len(t, req.Input.Messages, 2)
		assert.Equal(t, RoleSystem, req.Input.Messages[0].Role)
		require.NotNil(t, req.Parameters)
		assert.Equal(t, "message", req.Parameters.ResultFormat)

		resp := DashScopeResponse{
			RequestID: "req-1",
			Output: DashScopeOutput{
				Choices: []DashScopeChoice{{
					FinishReason: "stop",
					Message:      Message{Role: RoleAssistant, Content: "满足要求"},
				}},
			},
			Usage: DashScopeUsage{TotalTokens: 42},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewDashScopeClient(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
	)
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "你是文档评估助手"},
		{Role: RoleUser, Content: "评估这一项"},
	})
	require.NoError(t, err)
	assert.Equal(t, "满足要求", resp.Text)
	assert.Equal(t, 42, resp.TokenCount)
}

// TestDashScopeAPIError 测试DashScope错误响应
func TestDashScopeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DashScopeResponse{
			Code:    "InvalidParameter",
			Message: "model not found",
		})
	}))
	defer srv.Close()

	client, err := NewDashScopeClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

// TestGenerateEmptyPrompt 测试空提示词
func TestGenerateEmptyPrompt(t *testing.T) {
	client, err := NewDashScopeClient(WithAPIKey("test-key"))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "")
	var llmErr LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrCodeEmptyPrompt, llmErr.Code)
}
