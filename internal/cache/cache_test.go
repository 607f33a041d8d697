package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCache 测试内存缓存的基本功能
func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	config := Config{
		Type:            "memory",
		DefaultTTL:      time.Second * 2,
		CleanupInterval: time.Second,
	}
	cache, err := NewMemoryCache(config)
	require.NoError(t, err)
	require.NotNil(t, cache)

	t.Run("set and get", func(t *testing.T) {
		err := cache.Set(ctx, "key1", "value1", 0) // 使用默认TTL
		assert.NoError(t, err)

		val, found, err := cache.Get(ctx, "key1")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value1", val)
	})

	t.Run("missing key", func(t *testing.T) {
		val, found, err := cache.Get(ctx, "non-existent")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, val)
	})

	t.Run("expiration", func(t *testing.T) {
		err := cache.Set(ctx, "expire-soon", "temp-value", time.Millisecond*200)
		assert.NoError(t, err)

		time.Sleep(time.Millisecond * 400)

		_, found, err := cache.Get(ctx, "expire-soon")
		assert.NoError(t, err)
		assert.False(t, found, "过期的键不应命中")
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "to-delete", "delete-me", 0))
		require.NoError(t, cache.Delete(ctx, "to-delete"))

		_, found, err := cache.Get(ctx, "to-delete")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "key2", "value2", 0))
		require.NoError(t, cache.Clear(ctx))

		_, found, err := cache.Get(ctx, "key2")
		assert.NoError(t, err)
		assert.False(t, found)
	})
}

// TestRedisCache 使用内嵌Redis测试Redis缓存
func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	server := miniredis.RunT(t)
	cache, err := NewRedisCache(Config{
		Type:       "redis",
		RedisAddr:  server.Addr(),
		DefaultTTL: time.Second * 2,
	})
	require.NoError(t, err)
	require.NotNil(t, cache)

	t.Run("set and get", func(t *testing.T) {
		err := cache.Set(ctx, "redis-key1", "redis-value1", time.Minute)
		assert.NoError(t, err)

		val, found, err := cache.Get(ctx, "redis-key1")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "redis-value1", val)
	})

	t.Run("missing key", func(t *testing.T) {
		val, found, err := cache.Get(ctx, "redis-non-existent")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, val)
	})

	t.Run("expiration", func(t *testing.T) {
		err := cache.Set(ctx, "redis-expire-soon", "redis-temp-value", time.Second)
		assert.NoError(t, err)

		// miniredis的时间需要手动推进
		server.FastForward(time.Second * 2)

		_, found, err := cache.Get(ctx, "redis-expire-soon")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "redis-to-delete", "redis-delete-me", time.Minute))
		require.NoError(t, cache.Delete(ctx, "redis-to-delete"))

		_, found, err := cache.Get(ctx, "redis-to-delete")
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "redis-key2", "value2", time.Minute))
		require.NoError(t, cache.Clear(ctx))

		_, found, err := cache.Get(ctx, "redis-key2")
		assert.NoError(t, err)
		assert.False(t, found)
	})
}

// TestRedisCacheConnectionError 测试Redis连接失败
func TestRedisCacheConnectionError(t *testing.T) {
	_, err := NewRedisCache(Config{
		Type:      "redis",
		RedisAddr: "localhost:1", // 不可用的端口
	})
	assert.Error(t, err, "连接失败应返回错误")
}

// TestCacheFactory 测试缓存工厂函数
func TestCacheFactory(t *testing.T) {
	memCache, err := NewCache(DefaultConfig())
	assert.NoError(t, err)
	assert.NotNil(t, memCache)

	// 未知缓存类型回落到内存缓存
	unknownCache, err := NewCache(Config{Type: "unknown-type"})
	assert.NoError(t, err)
	assert.NotNil(t, unknownCache)
}

// TestGenerateCacheKey 测试缓存键生成
func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "prefix", GenerateCacheKey("prefix"))
	assert.Equal(t, "prefix:part1", GenerateCacheKey("prefix", "part1"))
	assert.Equal(t, "prefix:part1:part2:part3",
		GenerateCacheKey("prefix", "part1", "part2", "part3"))
}

// TestDomainCacheKeys 测试领域缓存键
func TestDomainCacheKeys(t *testing.T) {
	t.Run("embedding key", func(t *testing.T) {
		key1 := EmbeddingCacheKey("text-embedding-3-small", "some chunk text")
		key2 := EmbeddingCacheKey("text-embedding-3-small", "some chunk text")
		key3 := EmbeddingCacheKey("text-embedding-3-small", "other text")

		assert.Equal(t, key1, key2, "相同文本应生成相同缓存键")
		assert.NotEqual(t, key1, key3)
		assert.Contains(t, key1, "embedding:text-embedding-3-small:")
	})

	t.Run("grade key", func(t *testing.T) {
		key1 := GradeCacheKey("qwen-turbo", "评估要求", "评分规则")
		key2 := GradeCacheKey("qwen-turbo", "评估要求", "其他规则")

		assert.NotEqual(t, key1, key2, "不同规则应生成不同缓存键")
		assert.Contains(t, key1, "grade:qwen-turbo:")
	})
}
