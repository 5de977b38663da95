// 本文件实现查询分析: 意图分类, 概念提取, 子查询分解与难度估计.
// 意图分类是固定词表的规则匹配, 首条命中规则获胜, 无命中时回退 general.
package retrieval

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/types"
)

// AnalyzerConfig 配置查询分析器.
type AnalyzerConfig struct {
	// 分解设置
	MaxSubQueries int `json:"max_sub_queries" yaml:"max_sub_queries"` // 最大子查询数 (2-5)

	// 领域词表, 命中即作为概念提取结果的一部分
	DomainTerms []string `json:"domain_terms" yaml:"domain_terms"`
}

// DefaultAnalyzerConfig 返回默认配置.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MaxSubQueries: 4,
	}
}

// Analyzer 将原始查询文本转换为不可变的 Query 对象与子查询集合.
type Analyzer struct {
	config AnalyzerConfig
	logger *zap.Logger
}

// NewAnalyzer 创建查询分析器.
func NewAnalyzer(config AnalyzerConfig, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxSubQueries <= 0 {
		config.MaxSubQueries = DefaultAnalyzerConfig().MaxSubQueries
	}
	return &Analyzer{
		config: config,
		logger: logger.With(zap.String("component", "analyzer")),
	}
}

// intentRule 是一条意图匹配规则, 规则按声明顺序求值.
type intentRule struct {
	intent Intent
	cues   []string
}

// 意图规则表. 顺序即优先级: 更具体的学习意图排在通用解释意图之前.
var intentRules = []intentRule{
	{IntentPrerequisiteAnalysis, []string{
		"prerequisite", "before learning", "need to know", "foundation for",
		"required to understand", "background for", "build up to",
	}},
	{IntentComparativeLearning, []string{
		"compare", "difference between", "versus", " vs ", " vs.", "better than",
		"contrast", "similarities between",
	}},
	{IntentMathematicalConcept, []string{
		"theorem", "proof", "equation", "formula", "derivative", "integral",
		"matrix", "eigenvalue", "probability distribution", "lemma", "axiom",
	}},
	{IntentProblemSolving, []string{
		"solve", "how to", "how do i", "steps to", "calculate", "compute",
		"find the", "work out", "debug",
	}},
	{IntentApplicationUnderstanding, []string{
		"use case", "application of", "applied to", "real-world",
		"in practice", "when would", "where is it used",
	}},
	{IntentConceptExplanation, []string{
		"explain", "what is", "what are", "define", "describe", "why does",
		"how does", "meaning of", "intuition behind",
	}},
}

// 难度提示词表.
var (
	beginnerCues = []string{
		"basics", "basic", "introduction", "intro to", "beginner", "simple",
		"simply", "for dummies", "getting started", "first time",
	}
	advancedCues = []string{
		"advanced", "rigorous", "formal proof", "asymptotic", "stochastic",
		"convergence", "optimality", "generalization bound", "tensor",
		"manifold", "variational", "hessian",
	}
)

var punctPattern = regexp.MustCompile(`[^\w]`)

// Analyze 分析查询文本, 返回 Query 与子查询集合.
// 空白输入返回 INVALID_QUERY 硬错误, 不做静默默认.
func (a *Analyzer) Analyze(text string) (*Query, []SubQuery, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil, types.NewError(types.ErrInvalidQuery, "query text is empty")
	}

	q := &Query{
		ID:         uuid.NewString(),
		Text:       trimmed,
		Intent:     a.classifyIntent(trimmed),
		Concepts:   a.extractConcepts(trimmed),
		Difficulty: a.estimateDifficulty(trimmed),
	}

	subs := a.decompose(q)

	a.logger.Debug("query analyzed",
		zap.String("query_id", q.ID),
		zap.String("intent", string(q.Intent)),
		zap.String("difficulty", string(q.Difficulty)),
		zap.Int("concepts", len(q.Concepts)),
		zap.Int("sub_queries", len(subs)))

	return q, subs, nil
}

// classifyIntent 按规则表匹配意图, 首条命中获胜.
func (a *Analyzer) classifyIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, cue := range rule.cues {
			if strings.Contains(lower, cue) {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}

// extractConcepts 提取领域概念集合, 可能为空.
// 策略: 停用词过滤后的关键词 + 配置领域词表命中 + 大写实体.
func (a *Analyzer) extractConcepts(text string) []string {
	seen := make(map[string]bool)
	concepts := make([]string, 0)

	add := func(c string) {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && !seen[c] {
			seen[c] = true
			concepts = append(concepts, c)
		}
	}

	lower := strings.ToLower(text)
	for _, term := range a.config.DomainTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			add(term)
		}
	}

	for _, word := range strings.Fields(lower) {
		word = punctPattern.ReplaceAllString(word, "")
		if word != "" && !stopWords[word] && len(word) > 2 {
			add(word)
		}
	}

	return concepts
}

// estimateDifficulty 用词汇复杂度启发式估计三级难度.
// 仅用作重排序权重选择, 不做硬过滤.
func (a *Analyzer) estimateDifficulty(text string) Difficulty {
	lower := strings.ToLower(text)

	for _, cue := range beginnerCues {
		if strings.Contains(lower, cue) {
			return DifficultyBeginner
		}
	}
	for _, cue := range advancedCues {
		if strings.Contains(lower, cue) {
			return DifficultyAdvanced
		}
	}

	// 回退: 平均词长作为词汇复杂度代理
	words := strings.Fields(lower)
	if len(words) == 0 {
		return DifficultyIntermediate
	}
	totalLen := 0
	for _, w := range words {
		totalLen += len(w)
	}
	avg := float64(totalLen) / float64(len(words))
	switch {
	case avg < 4.5:
		return DifficultyBeginner
	case avg > 7.0:
		return DifficultyAdvanced
	default:
		return DifficultyIntermediate
	}
}

// decompose 仅在查询含多个独立子句或显式比较/前置提示时分解;
// 否则原查询即唯一子查询.
func (a *Analyzer) decompose(q *Query) []SubQuery {
	parts := a.splitClauses(q.Text)

	if len(parts) <= 1 {
		return []SubQuery{{Text: q.Text, ParentID: q.ID, Index: 0}}
	}

	if len(parts) > a.config.MaxSubQueries {
		parts = parts[:a.config.MaxSubQueries]
	}

	subs := make([]SubQuery, 0, len(parts))
	for i, p := range parts {
		sq := SubQuery{Text: p, ParentID: q.ID, Index: i}
		// 前置分析意图下, 子查询携带对前序子查询的排序提示
		if q.Intent == IntentPrerequisiteAnalysis && i > 0 {
			sq.DependsOn = []int{i - 1}
		}
		subs = append(subs, sq)
	}

	a.logger.Debug("query decomposed",
		zap.String("query_id", q.ID),
		zap.Int("parts", len(subs)))

	return subs
}

// splitClauses 按连接词切分独立子句.
func (a *Analyzer) splitClauses(text string) []string {
	separators := []string{" and also ", " as well as ", "; ", " and ", " versus ", " vs ", " vs. "}

	parts := []string{text}
	for _, sep := range separators {
		next := make([]string, 0, len(parts))
		for _, part := range parts {
			for _, s := range strings.Split(part, sep) {
				s = strings.TrimSpace(s)
				if s != "" {
					next = append(next, s)
				}
			}
		}
		parts = next
	}

	// 每个部分至少两个词才算独立子句, 避免把 "AC and DC" 之类拆碎
	valid := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(strings.Fields(part)) >= 2 {
			valid = append(valid, part)
		}
	}
	if len(valid) <= 1 {
		return []string{text}
	}
	return valid
}

// 停用词表, 用于关键词式概念提取.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"i": true, "you": true, "he": true, "she": true, "it": true,
	"we": true, "they": true, "what": true, "which": true, "who": true,
	"whom": true, "this": true, "that": true, "these": true, "those": true,
	"am": true, "can": true, "to": true, "of": true, "in": true,
	"for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "above": true, "below": true, "between": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"because": true, "while": true, "although": true, "how": true, "why": true,
	"when": true, "where": true, "there": true, "here": true, "about": true,
	"explain": true, "describe": true, "define": true, "tell": true, "me": true,
	"please": true,
}
