// 本文件实现重排序使用的五个评分函数. 每个函数产出 [0,1] 分数,
// 纯函数且无状态, 单个候选失败时返回 SCORING_UNAVAILABLE 类错误.
package retrieval

import (
	"context"
	"math"
	"strings"
)

// Scorer 是统一的评分函数接口.
// 实现必须无状态: 固定权重下 Score 是 (query, candidate) 的纯函数.
type Scorer interface {
	// Name 返回评分函数名, 对应 ScoredCandidate.Breakdown 的键.
	Name() string

	// Score 计算查询-候选对的分数, 取值 [0,1].
	Score(ctx context.Context, q *Query, c *Candidate) (float64, error)
}

// CompositeWeights 是五个评分函数的顶层权重.
// 顶层权重固定, 意图只调制教学分的内部子权重.
type CompositeWeights struct {
	Semantic    float64 `json:"semantic" yaml:"semantic"`
	Pedagogical float64 `json:"pedagogical" yaml:"pedagogical"`
	Concept     float64 `json:"concept" yaml:"concept"`
	Clarity     float64 `json:"clarity" yaml:"clarity"`
	Authority   float64 `json:"authority" yaml:"authority"`
}

// DefaultCompositeWeights 返回默认顶层权重.
func DefaultCompositeWeights() CompositeWeights {
	return CompositeWeights{
		Semantic:    0.35,
		Pedagogical: 0.30,
		Concept:     0.20,
		Clarity:     0.10,
		Authority:   0.05,
	}
}

// ====== 语义评分 ======

// TermOverlapSemanticScorer 是默认的逐点语义评分器:
// 精确匹配, 词频与邻近度的加权混合. 生产部署通过 Scorer 接口
// 注入 Cross-Encoder 模型评分器替换它.
type TermOverlapSemanticScorer struct{}

// NewTermOverlapSemanticScorer 创建默认语义评分器.
func NewTermOverlapSemanticScorer() *TermOverlapSemanticScorer {
	return &TermOverlapSemanticScorer{}
}

// Name 实现 Scorer.
func (s *TermOverlapSemanticScorer) Name() string { return ScoreSemantic }

// Score 实现 Scorer.
func (s *TermOverlapSemanticScorer) Score(ctx context.Context, q *Query, c *Candidate) (float64, error) {
	queryTerms := tokenizeText(q.Text)
	docTerms := tokenizeText(c.Text)

	exact := exactMatchScore(queryTerms, docTerms)
	freq := termFrequencyScore(queryTerms, docTerms)
	proximity := proximityScore(queryTerms, docTerms)

	return clamp01(exact*0.4 + freq*0.4 + proximity*0.2), nil
}

// MathSemanticScorer 是面向数学/学术内容的意图特化语义评分器,
// 在词重叠之上奖励公式与记号密度.
type MathSemanticScorer struct {
	base *TermOverlapSemanticScorer
}

// NewMathSemanticScorer 创建数学特化语义评分器.
func NewMathSemanticScorer() *MathSemanticScorer {
	return &MathSemanticScorer{base: NewTermOverlapSemanticScorer()}
}

// Name 实现 Scorer.
func (s *MathSemanticScorer) Name() string { return ScoreSemantic }

var mathMarkers = []string{"=", "\\frac", "\\sum", "\\int", "theorem", "proof", "lemma", "∑", "∫", "≈", "≤", "≥"}

// Score 实现 Scorer.
func (s *MathSemanticScorer) Score(ctx context.Context, q *Query, c *Candidate) (float64, error) {
	base, err := s.base.Score(ctx, q, c)
	if err != nil {
		return 0, err
	}

	lower := strings.ToLower(c.Text)
	markers := 0
	for _, m := range mathMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			markers++
		}
	}
	bonus := math.Min(float64(markers)*0.05, 0.2)
	return clamp01(base*0.85 + bonus), nil
}

// ====== 教学评分 ======

// PedagogicalWeights 是教学分的内部子权重, 按意图选表.
type PedagogicalWeights struct {
	ConceptClarity  float64 `json:"concept_clarity" yaml:"concept_clarity"`
	ExampleRichness float64 `json:"example_richness" yaml:"example_richness"`
	PrereqAlignment float64 `json:"prereq_alignment" yaml:"prereq_alignment"`
	DifficultyFit   float64 `json:"difficulty_fit" yaml:"difficulty_fit"`
	Structure       float64 `json:"structure" yaml:"structure"`
	VisualAids      float64 `json:"visual_aids" yaml:"visual_aids"`
}

// DefaultIntentPedagogicalWeights 返回意图到子权重表的默认映射.
// 解释类意图偏重清晰度, 解题类偏重示例, 前置分析偏重前置对齐.
func DefaultIntentPedagogicalWeights() map[Intent]PedagogicalWeights {
	balanced := PedagogicalWeights{
		ConceptClarity: 0.20, ExampleRichness: 0.20, PrereqAlignment: 0.15,
		DifficultyFit: 0.15, Structure: 0.20, VisualAids: 0.10,
	}
	return map[Intent]PedagogicalWeights{
		IntentConceptExplanation: {
			ConceptClarity: 0.35, ExampleRichness: 0.15, PrereqAlignment: 0.10,
			DifficultyFit: 0.10, Structure: 0.20, VisualAids: 0.10,
		},
		IntentMathematicalConcept: {
			ConceptClarity: 0.30, ExampleRichness: 0.20, PrereqAlignment: 0.15,
			DifficultyFit: 0.10, Structure: 0.20, VisualAids: 0.05,
		},
		IntentProblemSolving: {
			ConceptClarity: 0.10, ExampleRichness: 0.40, PrereqAlignment: 0.10,
			DifficultyFit: 0.15, Structure: 0.20, VisualAids: 0.05,
		},
		IntentApplicationUnderstanding: {
			ConceptClarity: 0.10, ExampleRichness: 0.35, PrereqAlignment: 0.10,
			DifficultyFit: 0.15, Structure: 0.15, VisualAids: 0.15,
		},
		IntentPrerequisiteAnalysis: {
			ConceptClarity: 0.15, ExampleRichness: 0.10, PrereqAlignment: 0.40,
			DifficultyFit: 0.15, Structure: 0.15, VisualAids: 0.05,
		},
		IntentComparativeLearning: balanced,
		IntentGeneral:             balanced,
	}
}

// PedagogicalScorer 评估内容的教学质量: 概念清晰度, 示例丰富度,
// 前置对齐, 难度匹配, 讲解结构与可视化辅助的加权组合.
type PedagogicalScorer struct {
	intentWeights map[Intent]PedagogicalWeights
}

// NewPedagogicalScorer 创建教学评分器. weights 为 nil 时使用默认表.
func NewPedagogicalScorer(weights map[Intent]PedagogicalWeights) *PedagogicalScorer {
	if weights == nil {
		weights = DefaultIntentPedagogicalWeights()
	}
	return &PedagogicalScorer{intentWeights: weights}
}

// Name 实现 Scorer.
func (s *PedagogicalScorer) Name() string { return ScorePedagogical }

// Score 实现 Scorer.
func (s *PedagogicalScorer) Score(ctx context.Context, q *Query, c *Candidate) (float64, error) {
	w, ok := s.intentWeights[q.Intent]
	if !ok {
		w = DefaultIntentPedagogicalWeights()[IntentGeneral]
	}

	score := w.ConceptClarity*conceptClarityScore(c.Text) +
		w.ExampleRichness*exampleRichnessScore(c.Text) +
		w.PrereqAlignment*prereqAlignmentScore(q, c) +
		w.DifficultyFit*difficultyFitScore(q.Difficulty, c.Difficulty) +
		w.Structure*structureScore(c.Text) +
		w.VisualAids*visualAidScore(c.Text)

	return clamp01(score), nil
}

// ====== 概念对齐评分 ======

// ConceptScorer 评估候选覆盖的概念与查询概念集的重叠,
// 并按前置概念覆盖情况调整.
type ConceptScorer struct{}

// NewConceptScorer 创建概念对齐评分器.
func NewConceptScorer() *ConceptScorer { return &ConceptScorer{} }

// Name 实现 Scorer.
func (s *ConceptScorer) Name() string { return ScoreConcept }

// Score 实现 Scorer.
func (s *ConceptScorer) Score(ctx context.Context, q *Query, c *Candidate) (float64, error) {
	if len(q.Concepts) == 0 {
		return 0.5, nil
	}

	covered := conceptSet(c.Concepts)
	// 候选未声明概念元数据时, 回退到正文词面匹配
	if len(covered) == 0 {
		covered = conceptSet(tokenizeText(c.Text))
	}

	overlap := 0
	for _, qc := range q.Concepts {
		if covered[strings.ToLower(qc)] {
			overlap++
		}
	}
	base := float64(overlap) / float64(len(q.Concepts))

	// 候选附带查询概念的前置内容时给予小幅加成
	prereqBonus := 0.0
	queryConcepts := conceptSet(q.Concepts)
	for _, p := range c.Prerequisites {
		if queryConcepts[strings.ToLower(p)] {
			prereqBonus = 0.15
			break
		}
	}

	return clamp01(base + prereqBonus), nil
}

// ====== 清晰度评分 ======

// ClarityScorer 评估与概念内容无关的结构/表达质量.
type ClarityScorer struct{}

// NewClarityScorer 创建清晰度评分器.
func NewClarityScorer() *ClarityScorer { return &ClarityScorer{} }

// Name 实现 Scorer.
func (s *ClarityScorer) Name() string { return ScoreClarity }

// Score 实现 Scorer.
func (s *ClarityScorer) Score(ctx context.Context, q *Query, c *Candidate) (float64, error) {
	return clamp01(conceptClarityScore(c.Text)*0.5 + structureScore(c.Text)*0.5), nil
}

// ====== 权威度评分 ======

// AuthorityScorer 按来源类型与引用数评估可信度.
type AuthorityScorer struct{}

// NewAuthorityScorer 创建权威度评分器.
func NewAuthorityScorer() *AuthorityScorer { return &AuthorityScorer{} }

// Name 实现 Scorer.
func (s *AuthorityScorer) Name() string { return ScoreAuthority }

var sourceTypeWeights = map[string]float64{
	"textbook": 0.95,
	"paper":    0.85,
	"lecture":  0.70,
	"notes":    0.60,
	"url":      0.45,
}

// Score 实现 Scorer.
func (s *AuthorityScorer) Score(ctx context.Context, q *Query, c *Candidate) (float64, error) {
	base, ok := sourceTypeWeights[strings.ToLower(c.Source.SourceType)]
	if !ok {
		base = 0.5
	}

	// 引用数加成, 对数缩放
	bonus := 0.0
	if c.Source.Citations > 0 {
		bonus = math.Min(math.Log1p(float64(c.Source.Citations))/50.0, 0.1)
	}
	return clamp01(base + bonus), nil
}

// ====== 启发式子函数 ======

var exampleMarkers = []string{"for example", "for instance", "e.g.", "example:", "consider the", "suppose", "let's say", "worked example"}
var structureMarkers = []string{"first", "second", "then", "next", "finally", "in summary", "step 1", "step 2", "- ", "1.", "2."}
var visualMarkers = []string{"figure", "diagram", "table", "chart", "graph shows", "plot", "illustration", "!["}
var clarityMarkers = []string{"in other words", "that is", "intuitively", "simply put", "this means", "defined as", "refers to"}

func exampleRichnessScore(text string) float64 {
	return markerDensity(text, exampleMarkers, 3)
}

func structureScore(text string) float64 {
	return markerDensity(text, structureMarkers, 4)
}

func visualAidScore(text string) float64 {
	return markerDensity(text, visualMarkers, 2)
}

// conceptClarityScore 用定义性措辞与句长正则性估计清晰度.
func conceptClarityScore(text string) float64 {
	markers := markerDensity(text, clarityMarkers, 2)

	// 句子平均长度适中 (8-25 词) 视为易读
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	lengthScore := 0.5
	if len(sentences) > 0 {
		words := len(strings.Fields(text))
		avg := float64(words) / float64(len(sentences))
		switch {
		case avg >= 8 && avg <= 25:
			lengthScore = 1.0
		case avg < 8:
			lengthScore = 0.6
		default:
			lengthScore = 0.4
		}
	}

	return clamp01(markers*0.5 + lengthScore*0.5)
}

// prereqAlignmentScore 评估候选前置概念与查询概念集的衔接程度.
func prereqAlignmentScore(q *Query, c *Candidate) float64 {
	if len(c.Prerequisites) == 0 {
		// 无前置声明: 对初学者查询是好信号
		if q.Difficulty == DifficultyBeginner {
			return 0.8
		}
		return 0.5
	}

	known := conceptSet(q.Concepts)
	covered := 0
	for _, p := range c.Prerequisites {
		if known[strings.ToLower(p)] {
			covered++
		}
	}
	return float64(covered) / float64(len(c.Prerequisites))
}

// difficultyFitScore 评估难度匹配: 相同 1.0, 相邻 0.6, 相隔 0.3.
func difficultyFitScore(query, candidate Difficulty) float64 {
	if candidate == "" {
		return 0.5
	}
	if query == candidate {
		return 1.0
	}
	order := map[Difficulty]int{
		DifficultyBeginner:     0,
		DifficultyIntermediate: 1,
		DifficultyAdvanced:     2,
	}
	qi, ok1 := order[query]
	ci, ok2 := order[candidate]
	if !ok1 || !ok2 {
		return 0.5
	}
	if abs(qi-ci) == 1 {
		return 0.6
	}
	return 0.3
}

// markerDensity 统计标记短语命中数并归一化到 [0,1], saturation 为饱和命中数.
func markerDensity(text string, markers []string, saturation int) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	return math.Min(float64(hits)/float64(saturation), 1.0)
}

func exactMatchScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0.0
	}
	docSet := make(map[string]bool, len(docTerms))
	for _, dt := range docTerms {
		docSet[dt] = true
	}
	matched := 0
	for _, qt := range queryTerms {
		if docSet[qt] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func termFrequencyScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0.0
	}
	freq := make(map[string]int, len(docTerms))
	for _, dt := range docTerms {
		freq[dt]++
	}
	total := 0
	for _, qt := range queryTerms {
		total += freq[qt]
	}
	return math.Min(float64(total)/float64(len(queryTerms)*3), 1.0)
}

// proximityScore 查询词在文档中的最小跨度, 跨度越小分数越高.
func proximityScore(queryTerms, docTerms []string) float64 {
	if len(queryTerms) <= 1 {
		return 1.0
	}

	positions := make(map[string][]int)
	querySet := make(map[string]bool, len(queryTerms))
	for _, qt := range queryTerms {
		querySet[qt] = true
	}
	for i, dt := range docTerms {
		if querySet[dt] {
			positions[dt] = append(positions[dt], i)
		}
	}
	if len(positions) < 2 {
		return 0.0
	}

	minSpan := len(docTerms)
	for t1, pos1 := range positions {
		for t2, pos2 := range positions {
			if t1 == t2 {
				continue
			}
			for _, p1 := range pos1 {
				for _, p2 := range pos2 {
					if span := abs(p1 - p2); span < minSpan {
						minSpan = span
					}
				}
			}
		}
	}

	return 1.0 / (1.0 + float64(minSpan)/10.0)
}

func conceptSet(concepts []string) map[string]bool {
	set := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		set[strings.ToLower(c)] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
