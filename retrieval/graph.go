package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ====== 概念图路由 ======

// conceptNode 是概念图中的节点, 挂载覆盖该概念的内容片段.
type conceptNode struct {
	concept string
	spans   []int // 下标引用 GraphSource.spans
}

// GraphSource 是内存概念/知识图上的候选来源适配器.
// 查询词命中概念节点后沿边扩散, 邻居概念的片段按衰减权重计分,
// 多概念命中的片段累加得分.
type GraphSource struct {
	spans []ContentSpan
	nodes map[string]*conceptNode

	// 概念邻接: prerequisite 边与 related 边统一存储, 带权重
	edges map[string]map[string]float64

	decay  float64 // 每跳的分数衰减
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewGraphSource 创建概念图来源.
func NewGraphSource(logger *zap.Logger) *GraphSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphSource{
		nodes:  make(map[string]*conceptNode),
		edges:  make(map[string]map[string]float64),
		decay:  0.5,
		logger: logger.With(zap.String("component", "graph_source")),
	}
}

// Route 实现 CandidateSource.
func (s *GraphSource) Route() Route { return RouteGraph }

// Index 添加内容片段并把片段挂载到其覆盖的概念节点.
// 片段声明的 prerequisite 概念自动生成前置边.
func (s *GraphSource) Index(spans []ContentSpan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, span := range spans {
		idx := len(s.spans)
		s.spans = append(s.spans, span)

		for _, c := range span.Concepts {
			key := strings.ToLower(c)
			node, ok := s.nodes[key]
			if !ok {
				node = &conceptNode{concept: key}
				s.nodes[key] = node
			}
			node.spans = append(node.spans, idx)
		}

		for _, prereq := range span.Prerequisites {
			for _, c := range span.Concepts {
				s.addEdge(strings.ToLower(c), strings.ToLower(prereq), 1.0)
			}
		}
	}

	s.logger.Info("spans indexed",
		zap.Int("count", len(spans)),
		zap.Int("concepts", len(s.nodes)))
	return nil
}

// AddRelation 显式添加概念间的图边, 双向.
func (s *GraphSource) AddRelation(from, to string, weight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addEdge(strings.ToLower(from), strings.ToLower(to), weight)
}

func (s *GraphSource) addEdge(from, to string, weight float64) {
	if s.edges[from] == nil {
		s.edges[from] = make(map[string]float64)
	}
	if s.edges[to] == nil {
		s.edges[to] = make(map[string]float64)
	}
	s.edges[from][to] = weight
	s.edges[to][from] = weight
}

// Search 实现 CandidateSource.
func (s *GraphSource) Search(ctx context.Context, sq SubQuery, topK int, filters SearchFilters) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// 1. 查询词命中概念节点
	activation := make(map[string]float64)
	for _, term := range tokenizeText(sq.Text) {
		if _, ok := s.nodes[term]; ok {
			activation[term] = 1.0
		}
	}

	// 2. 沿边扩散一跳, 邻居概念按边权 * 衰减计分
	for concept, weight := range copyActivation(activation) {
		for neighbor, edgeWeight := range s.edges[concept] {
			bonus := weight * edgeWeight * s.decay
			if bonus > activation[neighbor] {
				activation[neighbor] = bonus
			}
		}
	}

	// 3. 聚合片段得分: 片段覆盖的激活概念分数求和
	spanScores := make(map[int]float64)
	for concept, weight := range activation {
		node, ok := s.nodes[concept]
		if !ok {
			continue
		}
		for _, idx := range node.spans {
			spanScores[idx] += weight
		}
	}

	results := make([]Candidate, 0, len(spanScores))
	for idx, score := range spanScores {
		span := s.spans[idx]
		if !filters.Match(span.Source) {
			continue
		}
		results = append(results, span.toCandidate(RouteGraph, score))
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

func copyActivation(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
