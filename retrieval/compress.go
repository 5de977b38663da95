// 本文件实现上下文压缩器: 在硬 token 预算内从重排序列表中
// 选择并排序候选子集, 去除冗余, 保留溯源.
// 压缩是单线程确定性遍历, 对相同输入必然产出相同结果.
package retrieval

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/types"
)

// CompressorConfig 配置上下文压缩器.
type CompressorConfig struct {
	// token 预算, 必须为正
	TokenBudget int `json:"token_budget" yaml:"token_budget"`

	// 近重复判定阈值 (Jaccard 相似度)
	DedupSimilarityThreshold float64 `json:"dedup_similarity_threshold" yaml:"dedup_similarity_threshold"`

	// 是否在选择后尝试学习进阶重排 (前置先于依赖)
	EnableProgression bool `json:"enable_progression" yaml:"enable_progression"`
}

// DefaultCompressorConfig 返回默认配置.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{
		TokenBudget:              8000,
		DedupSimilarityThreshold: 0.85,
		EnableProgression:        true,
	}
}

// Compressor 上下文压缩器.
type Compressor struct {
	config    CompressorConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewCompressor 创建上下文压缩器. tokenizer 为 nil 时使用估算分词器.
func NewCompressor(config CompressorConfig, tokenizer Tokenizer, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorTokenizer()
	}
	def := DefaultCompressorConfig()
	if config.TokenBudget == 0 {
		config.TokenBudget = def.TokenBudget
	}
	if config.DedupSimilarityThreshold <= 0 {
		config.DedupSimilarityThreshold = def.DedupSimilarityThreshold
	}
	return &Compressor{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "compressor")),
	}
}

// Compress 对分数降序的候选列表执行单次确定性遍历:
//
//  1. 近重复 (Jaccard ≥ 阈值) 的候选跳过, 除非它代表不同视角
//     (不同来源文档) —— 那种情况两者都采纳;
//  2. token 长度放得进剩余预算才采纳, 放不进就跳过继续,
//     从不做片段内截断;
//  3. 选择完成后, 若采纳候选的概念元数据中存在前置关系且启用进阶,
//     按前置先于依赖稳定重排并显式置位 PrerequisiteOrdered.
//
// BudgetExceeded 从不发生: 按构造, 结果恒在预算之内.
func (c *Compressor) Compress(q *Query, scored []ScoredCandidate) (*CompressedContext, error) {
	if c.config.TokenBudget <= 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "token budget must be positive")
	}

	out := &CompressedContext{
		TokenBudget: c.config.TokenBudget,
	}
	if q != nil {
		out.QueryID = q.ID
	}

	remaining := c.config.TokenBudget
	admittedTerms := make([][]string, 0)

	for _, cand := range scored {
		terms := tokenizeText(CanonicalizeText(cand.Text))

		if c.isRedundant(terms, cand, out.Entries, admittedTerms) {
			out.DroppedCount++
			continue
		}

		tokens := c.tokenizer.CountTokens(cand.Text)
		if tokens > remaining {
			// 不截断: 跳过并继续尝试更小的候选
			out.DroppedCount++
			continue
		}

		cand.TokenCount = tokens
		remaining -= tokens
		out.TotalTokens += tokens
		out.Entries = append(out.Entries, cand)
		admittedTerms = append(admittedTerms, terms)

		if cand.PartiallyScored {
			out.PartiallyScored++
		}
	}

	if c.config.EnableProgression {
		out.PrerequisiteOrdered = c.reorderByPrerequisites(out.Entries)
	}

	c.logger.Debug("compression complete",
		zap.Int("admitted", len(out.Entries)),
		zap.Int("dropped", out.DroppedCount),
		zap.Int("total_tokens", out.TotalTokens),
		zap.Bool("prerequisite_ordered", out.PrerequisiteOrdered))

	return out, nil
}

// isRedundant 判定候选相对已采纳集合是否冗余.
// 不同来源文档的近重复视为不同视角, 予以保留.
func (c *Compressor) isRedundant(terms []string, cand ScoredCandidate, admitted []ScoredCandidate, admittedTerms [][]string) bool {
	for i, prev := range admitted {
		if jaccardSimilarity(terms, admittedTerms[i]) < c.config.DedupSimilarityThreshold {
			continue
		}
		if prev.Source.DocumentID != cand.Source.DocumentID {
			// 不同视角: 两者都采纳
			continue
		}
		return true
	}
	return false
}

// reorderByPrerequisites 把采纳候选稳定重排为学习进阶顺序:
// 覆盖某概念的条目排在声明该概念为前置的条目之前.
// 无前置关系时保持分数顺序不动, 返回是否发生了重排.
func (c *Compressor) reorderByPrerequisites(entries []ScoredCandidate) bool {
	if len(entries) < 2 {
		return false
	}

	// 概念 -> 覆盖它的最早条目下标
	coveredBy := make(map[string]int)
	for i, e := range entries {
		for _, concept := range e.Concepts {
			key := strings.ToLower(concept)
			if _, ok := coveredBy[key]; !ok {
				coveredBy[key] = i
			}
		}
	}

	// 依赖图: entry i 依赖 entry j 当 i 的某个前置概念由 j 覆盖
	depends := make(map[int][]int)
	hasRelation := false
	for i, e := range entries {
		for _, prereq := range e.Prerequisites {
			if j, ok := coveredBy[strings.ToLower(prereq)]; ok && j != i {
				depends[i] = append(depends[i], j)
				hasRelation = true
			}
		}
	}
	if !hasRelation {
		return false
	}

	// Kahn 拓扑排序, 以原分数位次为次序保证稳定与确定性;
	// 环路退化为保持原顺序
	order := stableTopoOrder(len(entries), depends)
	if order == nil {
		return false
	}

	reordered := make([]ScoredCandidate, len(entries))
	for pos, idx := range order {
		reordered[pos] = entries[idx]
	}
	copy(entries, reordered)
	return true
}

// stableTopoOrder 返回稳定拓扑序 (依赖在前), 有环返回 nil.
func stableTopoOrder(n int, depends map[int][]int) []int {
	indegree := make([]int, n)
	dependents := make(map[int][]int)
	for i, deps := range depends {
		for _, j := range deps {
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		// 原位次最小者优先, 保证稳定
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != n {
		return nil
	}
	return order
}

// jaccardSimilarity 计算两个词集合的 Jaccard 相似度.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
