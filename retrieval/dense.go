package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ====== 稠密向量路由 ======

// Embedder 把文本转换为查询向量. 实现必须无状态.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// DenseSource 是内存稠密向量索引上的候选来源适配器,
// 用余弦相似度对内容片段排序. 用于测试与小规模应用;
// 生产部署通过同一接口接入外部向量索引.
type DenseSource struct {
	spans    []ContentSpan
	embedder Embedder
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewDenseSource 创建稠密向量来源.
func NewDenseSource(embedder Embedder, logger *zap.Logger) *DenseSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DenseSource{
		embedder: embedder,
		logger:   logger.With(zap.String("component", "dense_source")),
	}
}

// Route 实现 CandidateSource.
func (s *DenseSource) Route() Route { return RouteDense }

// Index 添加内容片段. 每个片段必须已携带 embedding.
func (s *DenseSource) Index(spans []ContentSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, span := range spans {
		if span.Embedding == nil {
			return fmt.Errorf("span from document %s has no embedding", span.Source.DocumentID)
		}
		s.spans = append(s.spans, span)
	}

	s.logger.Info("spans indexed",
		zap.Int("count", len(spans)),
		zap.Int("total", len(s.spans)))
	return nil
}

// Search 实现 CandidateSource: embedding 查询后按余弦相似度取 Top-K.
func (s *DenseSource) Search(ctx context.Context, sq SubQuery, topK int, filters SearchFilters) ([]Candidate, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, sq.Text)
	if err != nil {
		return nil, fmt.Errorf("embed subquery: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Candidate, 0, len(s.spans))
	for _, span := range s.spans {
		if !filters.Match(span.Source) {
			continue
		}
		similarity := cosineSimilarity(queryEmbedding, span.Embedding)
		results = append(results, span.toCandidate(RouteDense, similarity))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RawScore != results[j].RawScore {
			return results[i].RawScore > results[j].RawScore
		}
		return results[i].Source.DocumentID < results[j].Source.DocumentID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ====== 特征哈希 Embedder ======

// HashingEmbedder 是确定性的词袋特征哈希 embedder,
// 把词项散列到固定维度并做 L2 归一化. 离线默认实现,
// 生产部署注入真实 embedding 服务.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder 创建特征哈希 embedder. dims <= 0 时用 256 维.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

// Embed 实现 Embedder. 相同文本恒产出相同向量.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dims)
	for _, term := range tokenizeText(text) {
		// FNV-1a
		h := uint32(2166136261)
		for i := 0; i < len(term); i++ {
			h ^= uint32(term[i])
			h *= 16777619
		}
		vec[h%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// cosineSimilarity 计算余弦相似度.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
