//go:build cgo

package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// 每执行这么多次写操作自动落盘一次
const faissAutoSaveInterval = 100

// FaissRepository 基于Faiss的向量仓库实现
// 向量存入Faiss索引，分块元数据以JSON sidecar文件持久化
type FaissRepository struct {
	mu    sync.RWMutex
	index faiss.Index

	// 分块元数据与Faiss内部位置的双向映射
	chunks        map[string]Chunk
	docToChunkIDs map[string][]string
	idToPosition  map[string]int
	positionToID  map[int]string

	dimension    int
	distanceType DistanceType

	// 持久化
	indexPath      string
	metaPath       string
	saveOnClose    bool
	autoSave       bool
	autoSaveCount  int
	operationCount int
}

// NewFaissRepository 创建新的Faiss向量仓库
// config.Path非空且文件已存在时从磁盘恢复索引和sidecar元数据
func NewFaissRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", config.Dimension)
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	repo := &FaissRepository{
		chunks:        make(map[string]Chunk),
		docToChunkIDs: make(map[string][]string),
		idToPosition:  make(map[string]int),
		positionToID:  make(map[int]string),
		dimension:     config.Dimension,
		distanceType:  distType,
		saveOnClose:   true,
		autoSave:      true,
		autoSaveCount: faissAutoSaveInterval,
	}
	if !config.InMemory && config.Path != "" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		repo.indexPath = config.Path
		repo.metaPath = config.Path + ".meta.json"
	}

	if err := repo.openIndex(config.CreateIfNotExists); err != nil {
		return nil, err
	}
	return repo, nil
}

// openIndex 恢复磁盘上的索引，不存在或无法读取时按需新建
func (r *FaissRepository) openIndex(createIfMissing bool) error {
	if r.indexPath != "" && fileExists(r.indexPath) {
		index, err := faiss.ReadIndex(r.indexPath, 0)
		if err == nil {
			if err := r.loadMetadata(r.metaPath); err != nil {
				return fmt.Errorf("failed to load chunk metadata: %w", err)
			}
			r.index = index
			return nil
		}
		if !createIfMissing {
			return fmt.Errorf("failed to read index file: %w", err)
		}
	}

	index, err := newFlatIndex(r.dimension, r.distanceType)
	if err != nil {
		return fmt.Errorf("failed to create Faiss index: %w", err)
	}
	r.index = index
	return nil
}

// newFlatIndex 按距离度量创建平面索引
// 余弦距离通过归一化向量加内积实现
func newFlatIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	metric := faiss.MetricL2
	if distType == Cosine || distType == DotProduct {
		metric = faiss.MetricInnerProduct
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// prepare 入库前的分块预处理
func (r *FaissRepository) prepare(chunk *Chunk) error {
	if err := ValidateVector(chunk.Vector, r.dimension); err != nil {
		return err
	}
	if r.distanceType == Cosine {
		chunk.Vector = normalizeVector(chunk.Vector)
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}
	if chunk.Metadata == nil {
		chunk.Metadata = make(map[string]interface{})
	}
	return nil
}

// Add 添加单个分块到仓库
func (r *FaissRepository) Add(chunk Chunk) error {
	if err := r.prepare(&chunk); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nextPos := int(r.index.Ntotal())
	if err := r.index.Add(chunk.Vector); err != nil {
		return fmt.Errorf("failed to add vector to index: %w", err)
	}
	r.register(chunk, nextPos)
	r.operationCount++

	return r.maybeAutoSave()
}

// register 记录分块元数据和索引位置，调用方需持有写锁
func (r *FaissRepository) register(chunk Chunk, pos int) {
	r.chunks[chunk.ID] = chunk
	r.idToPosition[chunk.ID] = pos
	r.positionToID[pos] = chunk.ID
	r.docToChunkIDs[chunk.DocumentID] = append(r.docToChunkIDs[chunk.DocumentID], chunk.ID)
}

// AddBatch 批量添加分块到仓库
func (r *FaissRepository) AddBatch(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i := range chunks {
		if err := r.prepare(&chunks[i]); err != nil {
			return fmt.Errorf("invalid vector for chunk %s: %w", chunks[i].ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	startPos := int(r.index.Ntotal())
	for i := range chunks {
		if err := r.index.Add(chunks[i].Vector); err != nil {
			return fmt.Errorf("failed to add vector to index: %w", err)
		}
	}
	for i, chunk := range chunks {
		r.register(chunk, startPos+i)
	}
	r.operationCount += len(chunks)

	return r.maybeAutoSave()
}

// maybeAutoSave 操作数达到阈值时保存索引，调用方需持有写锁
func (r *FaissRepository) maybeAutoSave() error {
	if r.autoSave && r.operationCount >= r.autoSaveCount {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("auto-save failed: %w", err)
		}
		r.operationCount = 0
	}
	return nil
}

// Get 获取单个分块
func (r *FaissRepository) Get(id string) (Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chunk, exists := r.chunks[id]
	if !exists {
		return Chunk{}, ErrChunkNotFound
	}
	return chunk, nil
}

// Delete 删除单个分块
// 向量仍留在Faiss索引中，搜索时通过元数据过滤跳过
func (r *FaissRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, exists := r.chunks[id]
	if !exists {
		return ErrChunkNotFound
	}
	r.unregister(id)

	if remaining := removeString(r.docToChunkIDs[chunk.DocumentID], id); len(remaining) == 0 {
		delete(r.docToChunkIDs, chunk.DocumentID)
	} else {
		r.docToChunkIDs[chunk.DocumentID] = remaining
	}
	r.operationCount++
	return nil
}

// unregister 移除分块元数据和位置映射，调用方需持有写锁
// 不维护docToChunkIDs，由调用方处理
func (r *FaissRepository) unregister(id string) {
	delete(r.chunks, id)
	if pos, ok := r.idToPosition[id]; ok {
		delete(r.positionToID, pos)
	}
	delete(r.idToPosition, id)
}

func removeString(items []string, target string) []string {
	result := items[:0]
	for _, item := range items {
		if item != target {
			result = append(result, item)
		}
	}
	return result
}

// DeleteByDocumentID 删除指定文档的所有分块
func (r *FaissRepository) DeleteByDocumentID(documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunkIDs, exists := r.docToChunkIDs[documentID]
	if !exists {
		return nil
	}

	for _, id := range chunkIDs {
		r.unregister(id)
	}
	delete(r.docToChunkIDs, documentID)
	r.operationCount += len(chunkIDs)
	return nil
}

// Search 相似度搜索
func (r *FaissRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	if r.distanceType == Cosine {
		vector = normalizeVector(vector)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.chunks) == 0 {
		return []SearchResult{}, nil
	}

	k := filter.MaxResults
	if k <= 0 {
		k = 10
	}

	// 超采样，被删除和被过滤的位置要占掉一部分结果
	queryLimit := k * 2
	total := int(r.index.Ntotal())
	if queryLimit > total {
		queryLimit = total
	}
	if queryLimit == 0 {
		return []SearchResult{}, nil
	}

	distances, indices, err := r.index.Search(vector, int64(queryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	var results []SearchResult
	for i, idx := range indices {
		chunk, ok := r.chunkAtPosition(idx)
		if !ok || !matchDocumentID(chunk, filter.DocumentIDs) || !matchMetadata(chunk.Metadata, filter.Metadata) {
			continue
		}

		score := DistanceToScore(distances[i], r.distanceType)
		if score < filter.MinScore {
			continue
		}

		results = append(results, SearchResult{
			Chunk:    chunk,
			Score:    score,
			Distance: distances[i],
		})
		if len(results) >= k {
			break
		}
	}

	SortSearchResults(results)
	return results, nil
}

// chunkAtPosition 按Faiss内部位置查找分块，已删除的位置返回false
func (r *FaissRepository) chunkAtPosition(idx int64) (Chunk, bool) {
	if idx < 0 {
		return Chunk{}, false
	}
	chunkID, found := r.positionToID[int(idx)]
	if !found {
		return Chunk{}, false
	}
	chunk, exists := r.chunks[chunkID]
	return chunk, exists
}

// Count 获取分块总数
func (r *FaissRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks), nil
}

// GetDimension 返回向量维数
func (r *FaissRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭仓库
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saveOnClose && r.indexPath != "" {
		if err := r.saveIndex(); err != nil {
			return fmt.Errorf("failed to save index on close: %w", err)
		}
	}
	return nil
}

// faissMetadata 索引sidecar文件的结构
type faissMetadata struct {
	Chunks         map[string]Chunk    `json:"chunks"`
	DocToChunkIDs  map[string][]string `json:"doc_to_chunk_ids"`
	IDToPosition   map[string]int      `json:"id_to_position"`
	OperationCount int                 `json:"operation_count"`
}

// saveIndex 保存索引和分块数据到文件
func (r *FaissRepository) saveIndex() error {
	if r.indexPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := faiss.WriteIndex(r.index, r.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %w", err)
	}
	return r.saveMetadata()
}

// saveMetadata 保存分块元数据到文件
func (r *FaissRepository) saveMetadata() error {
	if r.metaPath == "" {
		return nil
	}

	metadata := faissMetadata{
		Chunks:         r.chunks,
		DocToChunkIDs:  r.docToChunkIDs,
		IDToPosition:   r.idToPosition,
		OperationCount: r.operationCount,
	}
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(r.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// loadMetadata 从文件加载分块元数据
func (r *FaissRepository) loadMetadata(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta faissMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	// 空sidecar文件保留构造时初始化的空map
	if meta.Chunks != nil {
		r.chunks = meta.Chunks
	}
	if meta.DocToChunkIDs != nil {
		r.docToChunkIDs = meta.DocToChunkIDs
	}
	if meta.IDToPosition != nil {
		r.idToPosition = meta.IDToPosition
	}
	r.operationCount = meta.OperationCount

	// 重建位置到ID的反查表
	r.positionToID = make(map[int]string, len(r.idToPosition))
	for id, pos := range r.idToPosition {
		r.positionToID[pos] = id
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
