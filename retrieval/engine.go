// 本文件实现检索引擎: 把查询分析、路由检索、加权融合、
// 多阶段重排序与上下文压缩串成一条流水线, 是包的顶层入口.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/internal/cache"
	"github.com/BaSui01/learnrag/internal/metrics"
	"github.com/BaSui01/learnrag/types"
)

const tracerName = "github.com/BaSui01/learnrag/retrieval"

// EngineConfig 配置检索引擎全流水线.
type EngineConfig struct {
	Analyzer   AnalyzerConfig   `json:"analyzer" yaml:"analyzer"`
	Router     RouterConfig     `json:"router" yaml:"router"`
	Fusion     FusionConfig     `json:"fusion" yaml:"fusion"`
	Rerank     RerankConfig     `json:"rerank" yaml:"rerank"`
	Compressor CompressorConfig `json:"compressor" yaml:"compressor"`

	// 查询级总超时, 0 表示不限
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// 按意图覆盖融合路由权重, 未命中的意图用 Fusion.Weights
	IntentWeights map[Intent]RouteWeights `json:"intent_weights" yaml:"intent_weights"`

	// 结果缓存过期时间, 0 用缓存管理器默认值
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultEngineConfig 返回默认引擎配置.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Analyzer:     DefaultAnalyzerConfig(),
		Router:       DefaultRouterConfig(),
		Fusion:       DefaultFusionConfig(),
		Rerank:       DefaultRerankConfig(),
		Compressor:   DefaultCompressorConfig(),
		QueryTimeout: 30 * time.Second,
	}
}

// Validate 校验引擎配置. 非法配置是硬失败, 在任何检索发生前返回.
func (c *EngineConfig) Validate() error {
	if c.Compressor.TokenBudget <= 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("token budget must be positive, got %d", c.Compressor.TokenBudget))
	}
	if c.Router.TopK <= 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("router top_k must be positive, got %d", c.Router.TopK))
	}
	if c.Fusion.KRRF <= 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("fusion k_rrf must be positive, got %d", c.Fusion.KRRF))
	}
	return nil
}

// QueryOptions 单次查询的可选覆盖项. 零值字段不覆盖引擎配置.
type QueryOptions struct {
	// 覆盖 token 预算
	TokenBudget int `json:"token_budget,omitempty"`

	// 跳过意图分类, 强制使用给定意图
	Intent Intent `json:"intent,omitempty"`

	// 覆盖融合路由权重
	Weights *RouteWeights `json:"weights,omitempty"`

	// 来源过滤
	Filters SearchFilters `json:"filters,omitempty"`

	// 本次查询绕过结果缓存
	NoCache bool `json:"no_cache,omitempty"`
}

// fingerprint 产出选项的稳定指纹, 用于缓存键派生.
func (o *QueryOptions) fingerprint() string {
	if o == nil {
		return "default"
	}
	w := ""
	if o.Weights != nil {
		w = fmt.Sprintf("%.3f/%.3f/%.3f/%.3f",
			o.Weights.Dense, o.Weights.Sparse, o.Weights.Graph, o.Weights.Difficulty)
	}
	return fmt.Sprintf("b=%d;i=%s;w=%s;st=%v;doc=%v",
		o.TokenBudget, o.Intent, w, o.Filters.SourceTypes, o.Filters.DocumentIDs)
}

// Engine 检索引擎.
type Engine struct {
	config          EngineConfig
	analyzer        *Analyzer
	router          *Router
	reranker        *Reranker
	compressor      *Compressor
	tokenizer       Tokenizer
	semanticScorers map[Intent]Scorer
	cache           *cache.Manager
	metrics         *metrics.Collector
	tracer          oteltrace.Tracer
	logger          *zap.Logger
}

// EngineOption 引擎可选依赖.
type EngineOption func(*Engine)

// WithResultCache 启用 Redis 结果缓存.
func WithResultCache(m *cache.Manager) EngineOption {
	return func(e *Engine) { e.cache = m }
}

// WithMetrics 启用 Prometheus 指标上报.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// WithTokenizer 替换压缩阶段的分词器.
func WithTokenizer(t Tokenizer) EngineOption {
	return func(e *Engine) { e.tokenizer = t }
}

// WithSemanticScorers 按意图注入语义评分器.
func WithSemanticScorers(scorers map[Intent]Scorer) EngineOption {
	return func(e *Engine) { e.semanticScorers = scorers }
}

// NewEngine 创建检索引擎. sources 是参与扇出的候选来源适配器,
// 配置在任何检索前校验, 非法配置立即返回错误.
func NewEngine(config EngineConfig, sources []CandidateSource, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 只补零值字段, 绝不覆盖调用方显式设置的兄弟字段
	if config.Compressor == (CompressorConfig{}) {
		config.Compressor = DefaultCompressorConfig()
	}
	if config.Compressor.TokenBudget == 0 {
		config.Compressor.TokenBudget = DefaultCompressorConfig().TokenBudget
	}
	if config.Compressor.DedupSimilarityThreshold == 0 {
		config.Compressor.DedupSimilarityThreshold = DefaultCompressorConfig().DedupSimilarityThreshold
	}
	if config.Router.TopK == 0 {
		config.Router.TopK = DefaultRouterConfig().TopK
	}
	if config.Router.PerRouteTimeout == 0 {
		config.Router.PerRouteTimeout = DefaultRouterConfig().PerRouteTimeout
	}
	if config.Fusion.KRRF == 0 {
		config.Fusion.KRRF = DefaultFusionConfig().KRRF
	}
	if config.Fusion.Weights == (RouteWeights{}) {
		config.Fusion.Weights = DefaultRouteWeights()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config: config,
		tracer: otel.Tracer(tracerName),
		logger: logger.With(zap.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.tokenizer == nil {
		e.tokenizer = NewTiktokenTokenizer("", logger)
	}
	e.analyzer = NewAnalyzer(config.Analyzer, logger)
	e.router = NewRouter(sources, config.Router, logger)
	e.reranker = NewReranker(config.Rerank, e.semanticScorers, DefaultIntentPedagogicalWeights(), logger)
	e.compressor = NewCompressor(config.Compressor, e.tokenizer, logger)

	return e, nil
}

// Close 释放引擎持有的资源.
func (e *Engine) Close() {
	e.reranker.Close()
}

// RetrieveAndCompress 执行端到端查询流水线:
// 分析 -> 并发检索 -> 加权 RRF 融合 -> 五函数重排序 -> 预算内压缩.
//
// 只有两类错误作为硬失败返回: 无法解析的查询 (ErrInvalidQuery)
// 与非法配置覆盖 (ErrInvalidConfig). 零候选产出 NoResults 终态,
// 路由降级与部分评分在结果上打标, 均不构成错误.
func (e *Engine) RetrieveAndCompress(ctx context.Context, queryText string, opts *QueryOptions) (*CompressedContext, error) {
	start := time.Now()

	// 配置覆盖在任何检索前校验 (fail-fast)
	budget := e.config.Compressor.TokenBudget
	if opts != nil && opts.TokenBudget != 0 {
		budget = opts.TokenBudget
	}
	if budget <= 0 {
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("token budget must be positive, got %d", budget))
	}

	if e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "engine.retrieve_and_compress")
	defer span.End()

	// 结果缓存查询
	cacheKey := ""
	if e.cache != nil && (opts == nil || !opts.NoCache) {
		// 键用规范化文本派生, 空白差异命中同一条目
		cacheKey = cache.ResultKey("learnrag", CanonicalizeText(queryText), opts.fingerprint())
		var cached CompressedContext
		if err := e.cache.GetResult(ctx, cacheKey, &cached); err == nil {
			if e.metrics != nil {
				e.metrics.RecordCacheHit("result")
			}
			e.logger.Debug("result cache hit", zap.String("key", cacheKey))
			return &cached, nil
		} else if cache.IsCacheMiss(err) && e.metrics != nil {
			e.metrics.RecordCacheMiss("result")
		}
	}

	// 阶段一: 查询分析
	q, subs, err := e.analyzer.Analyze(queryText)
	if err != nil {
		e.recordQuery("unknown", "invalid_query", start)
		return nil, err
	}
	if opts != nil && opts.Intent != "" {
		q.Intent = opts.Intent
	}
	span.SetAttributes(
		attribute.String("query.id", q.ID),
		attribute.String("query.intent", string(q.Intent)),
		attribute.Int("query.sub_queries", len(subs)),
	)

	// 阶段二: 并发路由检索
	var filters SearchFilters
	if opts != nil {
		filters = opts.Filters
	}
	set, err := e.router.Retrieve(ctx, subs, filters)
	if err != nil {
		e.recordQuery(string(q.Intent), "error", start)
		return nil, err
	}

	// 阶段三: 加权 RRF 融合
	fuser := NewFuser(e.fusionConfigFor(q, opts), e.logger)
	fused, err := fuser.Fuse(q, set)
	if err != nil {
		if types.IsCode(err, types.ErrNoResults) {
			// 零候选是正常终态, 不是错误
			out := &CompressedContext{
				QueryID:        q.ID,
				TokenBudget:    budget,
				DegradedRoutes: set.DegradedRoutes,
				NoResults:      true,
			}
			e.recordQuery(string(q.Intent), "no_results", start)
			return out, nil
		}
		e.recordQuery(string(q.Intent), "error", start)
		return nil, err
	}

	// 阶段四: 多阶段重排序
	scored, err := e.reranker.Rerank(ctx, q, fused)
	if err != nil {
		e.recordQuery(string(q.Intent), "error", start)
		return nil, err
	}

	// 阶段五: 上下文压缩
	compressor := e.compressor
	if budget != e.config.Compressor.TokenBudget {
		cfg := e.config.Compressor
		cfg.TokenBudget = budget
		compressor = NewCompressor(cfg, e.tokenizer, e.logger)
	}
	out, err := compressor.Compress(q, scored)
	if err != nil {
		e.recordQuery(string(q.Intent), "error", start)
		return nil, err
	}
	out.DegradedRoutes = set.DegradedRoutes

	if e.metrics != nil {
		for _, list := range set.Lists {
			status := "ok"
			if list.Degraded {
				status = "degraded"
			}
			e.metrics.RecordRouteSearch(string(list.Route), status, list.Elapsed)
		}
		for _, route := range set.DegradedRoutes {
			e.metrics.RecordRouteDegraded(string(route))
		}
		for _, sc := range scored {
			for _, name := range sc.FailedScorers {
				e.metrics.RecordScorerFailure(name)
			}
		}
		e.metrics.RecordRerank(string(q.Intent), len(scored), out.PartiallyScored)
		e.metrics.RecordCompression(out.TotalTokens, out.DroppedCount)
	}
	e.recordQuery(string(q.Intent), "ok", start)

	// 回填结果缓存, 失败只记日志
	if e.cache != nil && cacheKey != "" {
		if err := e.cache.SetResult(ctx, cacheKey, out, e.config.CacheTTL); err != nil {
			e.logger.Warn("result cache store failed", zap.Error(err))
		}
	}

	e.logger.Info("query pipeline complete",
		zap.String("query_id", q.ID),
		zap.String("intent", string(q.Intent)),
		zap.Int("entries", len(out.Entries)),
		zap.Int("total_tokens", out.TotalTokens),
		zap.Int("degraded_routes", len(out.DegradedRoutes)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

// fusionConfigFor 解析本次查询生效的融合配置:
// 单次覆盖 > 意图级权重表 > 引擎默认.
func (e *Engine) fusionConfigFor(q *Query, opts *QueryOptions) FusionConfig {
	cfg := e.config.Fusion
	if w, ok := e.config.IntentWeights[q.Intent]; ok {
		cfg.Weights = w
	}
	if opts != nil && opts.Weights != nil {
		cfg.Weights = *opts.Weights
	}
	return cfg
}

func (e *Engine) recordQuery(intent, status string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordQuery(intent, status, time.Since(start))
	}
}
