package vectordb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) Repository {
	repo, err := NewMemoryRepository(Config{
		Dimension:    4,
		DistanceType: Cosine,
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testChunk(id, documentID string, position int, vector []float32) Chunk {
	return Chunk{
		ID:         id,
		DocumentID: documentID,
		Position:   position,
		Text:       fmt.Sprintf("chunk %s text", id),
		Reason:     "text block",
		Vector:     vector,
	}
}

// TestMemoryRepositoryCRUD 测试内存仓库的基本操作
func TestMemoryRepositoryCRUD(t *testing.T) {
	repo := newTestRepository(t)

	chunk := testChunk("c1", "doc1", 0, []float32{1, 0, 0, 0})
	require.NoError(t, repo.Add(chunk))

	t.Run("get existing", func(t *testing.T) {
		got, err := repo.Get("c1")
		require.NoError(t, err)
		assert.Equal(t, "doc1", got.DocumentID)
		assert.Equal(t, "text block", got.Reason)
		assert.False(t, got.CreatedAt.IsZero(), "创建时间应自动填充")
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get("missing")
		assert.ErrorIs(t, err, ErrChunkNotFound)
	})

	t.Run("count", func(t *testing.T) {
		count, err := repo.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete("c1"))
		_, err := repo.Get("c1")
		assert.ErrorIs(t, err, ErrChunkNotFound)

		assert.ErrorIs(t, repo.Delete("c1"), ErrChunkNotFound)
	})
}

// TestMemoryRepositoryDimensionCheck 测试向量维度校验
func TestMemoryRepositoryDimensionCheck(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Add(testChunk("bad", "doc1", 0, []float32{1, 0}))
	assert.Error(t, err, "维度不匹配的向量应被拒绝")

	err = repo.Add(Chunk{ID: "empty", DocumentID: "doc1"})
	assert.ErrorIs(t, err, ErrEmptyVector)
}

// TestMemoryRepositoryDeleteByDocumentID 测试按文档删除分块
func TestMemoryRepositoryDeleteByDocumentID(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.AddBatch([]Chunk{
		testChunk("a1", "docA", 0, []float32{1, 0, 0, 0}),
		testChunk("a2", "docA", 1, []float32{0, 1, 0, 0}),
		testChunk("b1", "docB", 0, []float32{0, 0, 1, 0}),
	}))

	require.NoError(t, repo.DeleteByDocumentID("docA"))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "docA的分块应全部删除")

	_, err = repo.Get("b1")
	assert.NoError(t, err, "其他文档的分块应保留")

	assert.NoError(t, repo.DeleteByDocumentID("unknown"),
		"删除不存在的文档不应报错")
}

// TestMemoryRepositorySearch 测试相似度搜索
func TestMemoryRepositorySearch(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.AddBatch([]Chunk{
		testChunk("exact", "docA", 0, []float32{1, 0, 0, 0}),
		testChunk("close", "docA", 1, []float32{0.9, 0.1, 0, 0}),
		testChunk("far", "docB", 0, []float32{0, 0, 0, 1}),
	}))

	t.Run("ranked by similarity", func(t *testing.T) {
		results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MaxResults: 3})
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "exact", results[0].Chunk.ID, "最相似的分块应排在最前")
		assert.Equal(t, "close", results[1].Chunk.ID)
		assert.Equal(t, "far", results[2].Chunk.ID)
		assert.InDelta(t, 1.0, results[0].Score, 0.001)
	})

	t.Run("max results", func(t *testing.T) {
		results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MaxResults: 1})
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("min score filter", func(t *testing.T) {
		results, err := repo.Search([]float32{1, 0, 0, 0},
			SearchFilter{MinScore: 0.5, MaxResults: 10})
		require.NoError(t, err)
		for _, result := range results {
			assert.GreaterOrEqual(t, result.Score, float32(0.5))
		}
		assert.Len(t, results, 2, "正交向量应被最小分数过滤")
	})

	t.Run("document id filter", func(t *testing.T) {
		results, err := repo.Search([]float32{1, 0, 0, 0},
			SearchFilter{DocumentIDs: []string{"docB"}, MaxResults: 10})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "far", results[0].Chunk.ID)
	})

	t.Run("cached query consistent after delete", func(t *testing.T) {
		filter := SearchFilter{MaxResults: 3}
		query := []float32{0, 1, 0, 0}

		first, err := repo.Search(query, filter)
		require.NoError(t, err)

		require.NoError(t, repo.Delete("close"))

		second, err := repo.Search(query, filter)
		require.NoError(t, err)
		assert.Less(t, len(second), len(first), "删除后缓存应失效并返回新结果")
	})
}

// TestMemoryRepositoryMetadataFilter 测试元数据过滤
func TestMemoryRepositoryMetadataFilter(t *testing.T) {
	repo := newTestRepository(t)

	tagged := testChunk("tagged", "docA", 0, []float32{1, 0, 0, 0})
	tagged.Metadata = map[string]interface{}{"lang": "zh"}
	plain := testChunk("plain", "docA", 1, []float32{0.9, 0.1, 0, 0})
	require.NoError(t, repo.Add(tagged))
	require.NoError(t, repo.Add(plain))

	results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{
		Metadata:   map[string]interface{}{"lang": "zh"},
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tagged", results[0].Chunk.ID)
}
