// 本文件实现重排序引擎: 对融合后的候选列表执行五函数集成评分,
// 产出按综合分数降序的 ScoredCandidate 列表.
// 评分跨候选完全独立, 在有界工作池上并行执行;
// 完成顺序不影响最终排序, 因为分数逐候选独立计算.
package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/internal/pool"
)

// RerankConfig 配置重排序引擎.
type RerankConfig struct {
	// 参与重排序的候选上限 (100-200)
	TopN int `json:"top_n" yaml:"top_n"`

	// 评分工作协程数
	Workers int `json:"workers" yaml:"workers"`

	// 顶层综合权重
	Weights CompositeWeights `json:"composite_weights" yaml:"composite_weights"`
}

// DefaultRerankConfig 返回默认配置.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		TopN:    150,
		Workers: 8,
		Weights: DefaultCompositeWeights(),
	}
}

// Reranker 重排序引擎.
//
// 语义评分器按意图选择: semanticScorers 是显式依赖注入的
// 意图到评分器映射, 缺省意图回退 defaultSemantic —— 不做隐式全局查找.
type Reranker struct {
	config          RerankConfig
	semanticScorers map[Intent]Scorer
	defaultSemantic Scorer
	pedagogical     Scorer
	concept         Scorer
	clarity         Scorer
	authority       Scorer
	pool            *pool.WorkerPool
	logger          *zap.Logger
}

// NewReranker 创建重排序引擎.
// semanticScorers 为 nil 时全部意图使用默认词重叠语义评分器;
// 数学意图建议注入 MathSemanticScorer 或外部 Cross-Encoder.
func NewReranker(
	config RerankConfig,
	semanticScorers map[Intent]Scorer,
	pedWeights map[Intent]PedagogicalWeights,
	logger *zap.Logger,
) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRerankConfig()
	if config.TopN <= 0 {
		config.TopN = def.TopN
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.Weights == (CompositeWeights{}) {
		config.Weights = def.Weights
	}

	return &Reranker{
		config:          config,
		semanticScorers: semanticScorers,
		defaultSemantic: NewTermOverlapSemanticScorer(),
		pedagogical:     NewPedagogicalScorer(pedWeights),
		concept:         NewConceptScorer(),
		clarity:         NewClarityScorer(),
		authority:       NewAuthorityScorer(),
		pool:            pool.New(config.Workers),
		logger:          logger.With(zap.String("component", "reranker")),
	}
}

// Close 释放评分工作池.
func (r *Reranker) Close() {
	r.pool.Close()
}

// weightedScorer 把评分函数与其顶层权重配对.
type weightedScorer struct {
	scorer Scorer
	weight float64
}

// scorersFor 返回该查询意图下的有序评分函数表.
func (r *Reranker) scorersFor(q *Query) []weightedScorer {
	semantic := r.defaultSemantic
	if s, ok := r.semanticScorers[q.Intent]; ok && s != nil {
		semantic = s
	}
	w := r.config.Weights
	return []weightedScorer{
		{semantic, w.Semantic},
		{r.pedagogical, w.Pedagogical},
		{r.concept, w.Concept},
		{r.clarity, w.Clarity},
		{r.authority, w.Authority},
	}
}

// Rerank 对融合候选执行集成评分并按综合分数降序返回.
//
// 单个候选上某个评分函数失败时, 该函数的权重按比例重新分配给
// 其余成功的函数（等价于只在成功权重上归一化）, 候选标记
// partially_scored; 引擎整体不因单候选失败而失败.
func (r *Reranker) Rerank(ctx context.Context, q *Query, fused []FusedCandidate) ([]ScoredCandidate, error) {
	if len(fused) == 0 {
		return []ScoredCandidate{}, nil
	}
	if len(fused) > r.config.TopN {
		fused = fused[:r.config.TopN]
	}

	scorers := r.scorersFor(q)
	scored := make([]ScoredCandidate, len(fused))

	err := r.pool.Run(ctx, len(fused), func(taskCtx context.Context, i int) {
		scored[i] = r.scoreOne(taskCtx, q, scorers, fused[i])
	})
	if err != nil {
		return nil, err
	}

	// 综合分数降序, 平分按融合分数与内容 id 保证确定性
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Composite != scored[j].Composite {
			return scored[i].Composite > scored[j].Composite
		}
		if scored[i].FusedScore != scored[j].FusedScore {
			return scored[i].FusedScore > scored[j].FusedScore
		}
		return scored[i].ID < scored[j].ID
	})

	partial := 0
	for _, sc := range scored {
		if sc.PartiallyScored {
			partial++
		}
	}
	r.logger.Debug("rerank complete",
		zap.Int("candidates", len(scored)),
		zap.Int("partially_scored", partial))

	return scored, nil
}

// scoreOne 对单个候选执行全部评分函数.
func (r *Reranker) scoreOne(ctx context.Context, q *Query, scorers []weightedScorer, fc FusedCandidate) ScoredCandidate {
	sc := ScoredCandidate{
		Candidate:  fc.Candidate,
		Breakdown:  make(map[string]float64, len(scorers)),
		FusedScore: fc.FusedScore,
	}

	weightedSum := 0.0
	okWeight := 0.0

	for _, ws := range scorers {
		value, err := ws.scorer.Score(ctx, q, &fc.Candidate)
		if err != nil {
			// 局部恢复: 记录失败并把权重留给重新分配, 绝不静默填零
			sc.PartiallyScored = true
			sc.FailedScorers = append(sc.FailedScorers, ws.scorer.Name())
			r.logger.Warn("scorer unavailable for candidate",
				zap.String("scorer", ws.scorer.Name()),
				zap.String("candidate", fc.ID),
				zap.Error(err))
			continue
		}
		value = clamp01(value)
		sc.Breakdown[ws.scorer.Name()] = value
		weightedSum += ws.weight * value
		okWeight += ws.weight
	}

	// 失败权重按比例重分配: 在成功权重上归一化
	if okWeight > 0 {
		sc.Composite = weightedSum / okWeight
	}
	return sc
}
