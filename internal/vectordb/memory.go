package vectordb

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"runtime"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryRepository 内存向量仓库实现
// 用于开发和测试环境的简单内存存储
type MemoryRepository struct {
	mu            sync.RWMutex
	dimension     int
	distType      DistanceType
	chunks        map[string]Chunk    // 分块存储，ID到分块的映射
	docToChunkIDs map[string][]string // 文档ID到分块ID的映射
	queryCache    *gocache.Cache      // 查询结果缓存
}

// 查询缓存的有效期和清理周期
const (
	queryCacheTTL     = 10 * time.Minute
	queryCacheCleanup = 30 * time.Minute
)

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	distType := config.DistanceType
	if distType != Cosine && distType != DotProduct && distType != Euclidean {
		distType = Cosine // 默认使用余弦距离
	}

	return &MemoryRepository{
		dimension:     config.Dimension,
		distType:      distType,
		chunks:        make(map[string]Chunk),
		docToChunkIDs: make(map[string][]string),
		queryCache:    gocache.New(queryCacheTTL, queryCacheCleanup),
	}, nil
}

// queryCacheKey 为查询生成缓存键
// 对完整向量和过滤条件做FNV哈希
func queryCacheKey(vector []float32, filter SearchFilter) string {
	h := fnv.New64a()
	buf := make([]byte, 4)
	for _, v := range vector {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	for _, id := range filter.DocumentIDs {
		h.Write([]byte(id))
	}
	return fmt.Sprintf("q_%x_m%d_s%f_r%d",
		h.Sum64(), len(filter.Metadata), filter.MinScore, filter.MaxResults)
}

// invalidateQueryCache 写操作后清空查询缓存
func (r *MemoryRepository) invalidateQueryCache() {
	r.queryCache.Flush()
}

// prepare 入库前的分块预处理
func (r *MemoryRepository) prepare(chunk *Chunk) error {
	if err := ValidateVector(chunk.Vector, r.dimension); err != nil {
		return err
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	if chunk.Metadata == nil {
		chunk.Metadata = make(map[string]interface{})
	}
	// 余弦距离下先归一化，搜索时只需计算点积
	if r.distType == Cosine {
		chunk.Vector = normalizeVector(chunk.Vector)
	}
	return nil
}

// Add 添加单个分块到内存仓库
func (r *MemoryRepository) Add(chunk Chunk) error {
	if err := r.prepare(&chunk); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.chunks[chunk.ID] = chunk
	r.docToChunkIDs[chunk.DocumentID] = append(r.docToChunkIDs[chunk.DocumentID], chunk.ID)
	r.invalidateQueryCache()

	return nil
}

// AddBatch 批量添加分块到内存仓库
func (r *MemoryRepository) AddBatch(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range chunks {
		chunk := &chunks[i]
		if err := r.prepare(chunk); err != nil {
			return fmt.Errorf("invalid vector for chunk %s: %v", chunk.ID, err)
		}

		r.chunks[chunk.ID] = *chunk
		r.docToChunkIDs[chunk.DocumentID] = append(r.docToChunkIDs[chunk.DocumentID], chunk.ID)
	}
	r.invalidateQueryCache()

	return nil
}

// Get 获取单个分块
func (r *MemoryRepository) Get(id string) (Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunk, exists := r.chunks[id]
	if !exists {
		return Chunk{}, ErrChunkNotFound
	}

	return chunk, nil
}

// Delete 删除单个分块
func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, exists := r.chunks[id]
	if !exists {
		return ErrChunkNotFound
	}

	delete(r.chunks, id)

	if chunkIDs, ok := r.docToChunkIDs[chunk.DocumentID]; ok {
		updatedIDs := make([]string, 0, len(chunkIDs)-1)
		for _, chunkID := range chunkIDs {
			if chunkID != id {
				updatedIDs = append(updatedIDs, chunkID)
			}
		}

		if len(updatedIDs) == 0 {
			delete(r.docToChunkIDs, chunk.DocumentID)
		} else {
			r.docToChunkIDs[chunk.DocumentID] = updatedIDs
		}
	}
	r.invalidateQueryCache()

	return nil
}

// DeleteByDocumentID 删除指定文档的所有分块
func (r *MemoryRepository) DeleteByDocumentID(documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunkIDs, exists := r.docToChunkIDs[documentID]
	if !exists {
		return nil
	}

	for _, id := range chunkIDs {
		delete(r.chunks, id)
	}
	delete(r.docToChunkIDs, documentID)
	r.invalidateQueryCache()

	return nil
}

// Search 相似度搜索
// 小数据集串行计算，大数据集按CPU核数并行
func (r *MemoryRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	if r.distType == Cosine {
		vector = normalizeVector(vector)
	}

	cacheKey := queryCacheKey(vector, filter)
	if cached, found := r.queryCache.Get(cacheKey); found {
		results := cached.([]SearchResult)
		out := make([]SearchResult, len(results))
		copy(out, results)
		return out, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// 指定了文档ID时直接走索引，避免全表扫描
	var candidates []Chunk
	if len(filter.DocumentIDs) > 0 {
		for _, documentID := range filter.DocumentIDs {
			for _, chunkID := range r.docToChunkIDs[documentID] {
				chunk, exists := r.chunks[chunkID]
				if exists && matchMetadata(chunk.Metadata, filter.Metadata) {
					candidates = append(candidates, chunk)
				}
			}
		}
	} else {
		candidates = make([]Chunk, 0, len(r.chunks))
		for _, chunk := range r.chunks {
			if matchMetadata(chunk.Metadata, filter.Metadata) {
				candidates = append(candidates, chunk)
			}
		}
	}

	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	threads := runtime.NumCPU() * 4 / 5
	if threads < 1 {
		threads = 1
	}

	var results []SearchResult
	var err error
	if len(candidates) < 100 || threads == 1 {
		results, err = r.scoreSerial(vector, candidates, filter)
	} else {
		results, err = r.scoreParallel(vector, candidates, filter, threads)
	}
	if err != nil {
		return nil, err
	}

	SortSearchResults(results)
	if filter.MaxResults > 0 && len(results) > filter.MaxResults {
		results = results[:filter.MaxResults]
	}

	cached := make([]SearchResult, len(results))
	copy(cached, results)
	r.queryCache.Set(cacheKey, cached, gocache.DefaultExpiration)

	return results, nil
}

// scoreSerial 串行计算候选分块的相似度
func (r *MemoryRepository) scoreSerial(vector []float32, chunks []Chunk, filter SearchFilter) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(chunks))

	for _, chunk := range chunks {
		dist, err := ComputeDistance(vector, chunk.Vector, r.distType)
		if err != nil {
			return nil, fmt.Errorf("error computing distance: %v", err)
		}

		score := DistanceToScore(dist, r.distType)
		if score >= filter.MinScore {
			results = append(results, SearchResult{
				Chunk:    chunk,
				Score:    score,
				Distance: dist,
			})
		}
	}

	return results, nil
}

// scoreParallel 并行计算候选分块的相似度
func (r *MemoryRepository) scoreParallel(vector []float32, chunks []Chunk, filter SearchFilter, threads int) ([]SearchResult, error) {
	chunksPerThread := (len(chunks) + threads - 1) / threads

	resultsChan := make(chan []SearchResult, threads)
	errorsChan := make(chan error, threads)
	workers := 0

	for i := 0; i < threads; i++ {
		start := i * chunksPerThread
		end := start + chunksPerThread
		if end > len(chunks) {
			end = len(chunks)
		}
		if start >= end {
			continue
		}
		workers++

		go func(part []Chunk) {
			partResults, err := r.scoreSerial(vector, part, filter)
			if err != nil {
				errorsChan <- err
				return
			}
			resultsChan <- partResults
		}(chunks[start:end])
	}

	var allResults []SearchResult
	for i := 0; i < workers; i++ {
		select {
		case err := <-errorsChan:
			return nil, err
		case partResults := <-resultsChan:
			allResults = append(allResults, partResults...)
		}
	}

	return allResults, nil
}

// Count 获取分块总数
func (r *MemoryRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.chunks), nil
}

// GetDimension 返回向量维数
func (r *MemoryRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭数据库连接
// 对于内存实现这是一个空操作
func (r *MemoryRepository) Close() error {
	return nil
}

// 在包初始化时注册内存仓库
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
