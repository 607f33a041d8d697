package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDashScopeServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewDashScopeClient(
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithMaxRetries(2),
	)
	require.NoError(t, err)
	return srv, client
}

// TestDashScopeEmbedBatch 测试DashScope批量嵌入
func TestDashScopeEmbedBatch(t *testing.T) {
	_, client := newDashScopeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req DashScopeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input.Texts, 2)

		// 故意乱序返回，客户端应按text_index还原顺序
		resp := DashScopeResponse{
			RequestID: "req-1",
			Output: DashScopeOutput{
				Embeddings: []DashScopeEmbedding{
					{TextIndex: 1, Embedding: []float32{2.0}},
					{TextIndex: 0, Embedding: []float32{1.0}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1.0}, vectors[0], "向量应按输入顺序排列")
	assert.Equal(t, []float32{2.0}, vectors[1])
}

// TestDashScopeRetryOnServerError 测试5xx错误的重试
func TestDashScopeRetryOnServerError(t *testing.T) {
	var attempts int32
	_, client := newDashScopeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(DashScopeResponse{
			Output: DashScopeOutput{
				Embeddings: []DashScopeEmbedding{{TextIndex: 0, Embedding: []float32{1.0}}},
			},
		})
	})

	vector, err := client.Embed(context.Background(), "text")
	require.NoError(t, err, "5xx后重试应成功")
	assert.Equal(t, []float32{1.0}, vector)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

// TestDashScopeErrors 测试错误处理
func TestDashScopeErrors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		client, err := NewDashScopeClient(WithAPIKey("test-key"))
		require.NoError(t, err)

		_, err = client.Embed(context.Background(), "")
		var embErr EmbeddingError
		require.ErrorAs(t, err, &embErr)
		assert.Equal(t, ErrCodeEmptyInput, embErr.Code)
	})

	t.Run("batch too large", func(t *testing.T) {
		client, err := NewDashScopeClient(WithAPIKey("test-key"))
		require.NoError(t, err)

		texts := make([]string, 26)
		for i := range texts {
			texts[i] = "text"
		}
		_, err = client.EmbedBatch(context.Background(), texts)
		var embErr EmbeddingError
		require.ErrorAs(t, err, &embErr)
		assert.Equal(t, ErrCodeBatchTooLarge, embErr.Code)
	})

	t.Run("api error response", func(t *testing.T) {
		_, client := newDashScopeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": "invalid model"})
		})

		_, err := client.Embed(context.Background(), "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid model")
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := NewDashScopeClient()
		require.Error(t, err)
	})
}
