package vectordb

import (
	"fmt"
	"math"
	"sort"
)

// ComputeDistance 按指定度量计算两个向量的距离
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions do not match: %d vs %d", len(v1), len(v2))
	}

	switch distType {
	case Cosine:
		return cosineDistance(v1, v2), nil
	case DotProduct:
		return dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 余弦距离，1减余弦相似度
func cosineDistance(v1, v2 []float32) float32 {
	norm1, norm2 := vectorNorm(v1), vectorNorm(v2)
	if norm1 == 0 || norm2 == 0 {
		// 零向量取最大距离
		return 1.0
	}

	similarity := dotProduct(v1, v2) / (norm1 * norm2)
	if similarity > 1.0 {
		// 浮点误差
		similarity = 1.0
	}
	return 1.0 - similarity
}

func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := range v1 {
		dot += v1[i] * v2[i]
	}
	return dot
}

func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// vectorNorm 向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// normalizeVector 归一化向量，零向量原样返回
func normalizeVector(v []float32) []float32 {
	norm := vectorNorm(v)
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// matchMetadata 判断分块元数据是否满足全部过滤条件
func matchMetadata(chunkMeta map[string]interface{}, filterMeta map[string]interface{}) bool {
	for key, filterValue := range filterMeta {
		if chunkValue, exists := chunkMeta[key]; !exists || chunkValue != filterValue {
			return false
		}
	}
	return true
}

// matchDocumentID 判断分块是否属于指定文档集合，空集合匹配所有文档
func matchDocumentID(chunk Chunk, documentIDs []string) bool {
	if len(documentIDs) == 0 {
		return true
	}
	for _, id := range documentIDs {
		if chunk.DocumentID == id {
			return true
		}
	}
	return false
}

// SortSearchResults 按评分降序排列搜索结果
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// DistanceToScore 把距离换算为[0,1]区间的评分
func DistanceToScore(distance float32, distType DistanceType) float32 {
	switch distType {
	case Cosine:
		return 1 - distance
	case DotProduct:
		// 归一化向量的点积落在[-1,1]，线性映射
		return (distance + 1) / 2
	case Euclidean:
		// 指数衰减，距离越小评分越高
		return float32(math.Exp(-float64(distance)))
	default:
		return 0
	}
}

// ValidateVector 校验向量非空且维度匹配
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", expectedDim, len(vector))
	}
	return nil
}
