package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchProcessor 批量嵌入处理器
// 将大量分块文本切成小批次并行嵌入，输出顺序与输入一致
type BatchProcessor struct {
	client     Client
	batchSize  int
	maxWorkers int
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	return &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// Process 并行嵌入一批文本
// 空文本位置返回nil向量，不发送给嵌入服务
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// 过滤空文本并记录原始位置
	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if text != "" {
			nonEmpty = append(nonEmpty, text)
			positions = append(positions, i)
		}
	}

	results := make([][]float32, len(texts))
	if len(nonEmpty) == 0 {
		return results, nil
	}

	batches := splitIntoBatches(nonEmpty, p.batchSize)

	wp := workerpool.New(p.maxWorkers)
	var mu sync.Mutex
	batchVectors := make([][][]float32, len(batches))
	var processErr error
	var errOnce sync.Once

	for i, batch := range batches {
		i, batch := i, batch
		wp.Submit(func() {
			select {
			case <-ctx.Done():
				errOnce.Do(func() { processErr = ctx.Err() })
				return
			default:
			}

			vectors, err := p.client.EmbedBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errOnce.Do(func() {
					processErr = fmt.Errorf("batch %d processing error: %v", i, err)
				})
				return
			}
			batchVectors[i] = vectors
		})
	}

	wp.StopWait()

	if processErr != nil {
		return nil, processErr
	}

	// 按批次顺序展开，再映射回原始位置
	idx := 0
	for _, vectors := range batchVectors {
		for _, v := range vectors {
			if idx < len(positions) {
				results[positions[idx]] = v
				idx++
			}
		}
	}

	return results, nil
}

// splitIntoBatches 将文本列表按批次大小切片
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}

	var batches [][]string
	for len(texts) > batchSize {
		batches = append(batches, texts[:batchSize])
		texts = texts[batchSize:]
	}
	if len(texts) > 0 {
		batches = append(batches, texts)
	}
	return batches
}
