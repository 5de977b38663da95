package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ====== 稀疏关键词路由 ======

// SparseConfig 配置 BM25 稀疏检索.
type SparseConfig struct {
	K1 float64 `json:"k1" yaml:"k1"` // BM25 参数 k1 (1.2-2.0)
	B  float64 `json:"b" yaml:"b"`   // BM25 参数 b (0.75)
}

// DefaultSparseConfig 返回默认配置.
func DefaultSparseConfig() SparseConfig {
	return SparseConfig{K1: 1.5, B: 0.75}
}

// SparseSource 是内存 BM25 关键词索引上的候选来源适配器.
type SparseSource struct {
	config SparseConfig
	spans  []ContentSpan

	// BM25 统计, Index 时计算
	avgDocLen float64
	docLens   []int
	termFreqs []map[string]int
	idf       map[string]float64

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewSparseSource 创建稀疏关键词来源.
func NewSparseSource(config SparseConfig, logger *zap.Logger) *SparseSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.K1 == 0 {
		config = DefaultSparseConfig()
	}
	return &SparseSource{
		config: config,
		idf:    make(map[string]float64),
		logger: logger.With(zap.String("component", "sparse_source")),
	}
}

// Route 实现 CandidateSource.
func (s *SparseSource) Route() Route { return RouteSparse }

// Index 添加内容片段并重算 BM25 统计信息.
func (s *SparseSource) Index(spans []ContentSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = append(s.spans, spans...)
	s.computeStats()

	s.logger.Info("spans indexed",
		zap.Int("count", len(spans)),
		zap.Int("total", len(s.spans)))
	return nil
}

// computeStats 计算文档长度, 词频与 IDF. 调用方必须持有写锁.
func (s *SparseSource) computeStats() {
	totalLen := 0
	s.docLens = make([]int, len(s.spans))
	s.termFreqs = make([]map[string]int, len(s.spans))
	termDocCount := make(map[string]int)

	for i, span := range s.spans {
		terms := tokenizeText(span.Text)
		s.docLens[i] = len(terms)
		totalLen += len(terms)

		freq := make(map[string]int, len(terms))
		for _, term := range terms {
			freq[term]++
		}
		s.termFreqs[i] = freq

		for term := range freq {
			termDocCount[term]++
		}
	}

	if len(s.spans) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(s.spans))
	}

	s.idf = make(map[string]float64, len(termDocCount))
	n := float64(len(s.spans))
	for term, df := range termDocCount {
		s.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

// Search 实现 CandidateSource: BM25 评分后取 Top-K.
func (s *SparseSource) Search(ctx context.Context, sq SubQuery, topK int, filters SearchFilters) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queryTerms := tokenizeText(sq.Text)
	results := make([]Candidate, 0)

	for i, span := range s.spans {
		if !filters.Match(span.Source) {
			continue
		}

		score := 0.0
		docLen := float64(s.docLens[i])
		for _, term := range queryTerms {
			tf, ok := s.termFreqs[i][term]
			if !ok {
				continue
			}
			// BM25 公式
			numerator := float64(tf) * (s.config.K1 + 1.0)
			denominator := float64(tf) + s.config.K1*(1.0-s.config.B+s.config.B*(docLen/s.avgDocLen))
			score += s.idf[term] * (numerator / denominator)
		}

		if score > 0 {
			results = append(results, span.toCandidate(RouteSparse, score))
		}
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

// tokenizeText 分词: 转小写并按空格分割, 去除标点.
func tokenizeText(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]{}\"'")
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}
