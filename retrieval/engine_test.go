package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/internal/cache"
	"github.com/BaSui01/learnrag/internal/metrics"
	"github.com/BaSui01/learnrag/types"
)

// countingSource 记录调用次数的候选来源.
type countingSource struct {
	route      Route
	candidates []Candidate
	err        error
	calls      atomic.Int64
}

func (s *countingSource) Route() Route { return s.route }

func (s *countingSource) Search(ctx context.Context, sq SubQuery, topK int, filters SearchFilters) ([]Candidate, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func newTestEngine(t *testing.T, sources []CandidateSource, opts ...EngineOption) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	opts = append(opts, WithTokenizer(NewEstimatorTokenizer()))
	engine, err := NewEngine(cfg, sources, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func TestEngine_EndToEndPipeline(t *testing.T) {
	t.Parallel()

	dense := &countingSource{route: RouteDense, candidates: []Candidate{
		stubCandidate(RouteDense, "ds-book", "A binary search tree keeps keys sorted for fast lookup."),
	}}
	sparse := &countingSource{route: RouteSparse, candidates: []Candidate{
		stubCandidate(RouteSparse, "ds-book", "A binary search tree keeps keys sorted for fast lookup."),
		stubCandidate(RouteSparse, "ds-notes", "Rotations keep the tree balanced after inserts."),
	}}
	graph := &countingSource{route: RouteGraph}

	engine := newTestEngine(t, []CandidateSource{dense, sparse, graph})

	result, err := engine.RetrieveAndCompress(context.Background(), "what is a binary search tree", nil)
	if err != nil {
		t.Fatalf("RetrieveAndCompress: %v", err)
	}

	if result.NoResults {
		t.Fatal("expected results")
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries after dedup, got %d", len(result.Entries))
	}
	if result.TotalTokens <= 0 || result.TotalTokens > result.TokenBudget {
		t.Fatalf("token accounting broken: %d/%d", result.TotalTokens, result.TokenBudget)
	}
	// 跨路由重复的片段应合并为一条且排名靠前
	if result.Entries[0].Source.DocumentID != "ds-book" {
		t.Fatalf("expected consensus span first, got %s", result.Entries[0].Source.DocumentID)
	}
	for _, e := range result.Entries {
		if e.Source.DocumentID == "" {
			t.Fatal("provenance lost in pipeline")
		}
		if len(e.Breakdown) == 0 {
			t.Fatal("score breakdown lost in pipeline")
		}
	}
}

func TestEngine_InvalidBudgetFailsBeforeRetrieval(t *testing.T) {
	t.Parallel()

	src := &countingSource{route: RouteDense, candidates: []Candidate{
		stubCandidate(RouteDense, "d", "some span"),
	}}
	engine := newTestEngine(t, []CandidateSource{src})

	_, err := engine.RetrieveAndCompress(context.Background(), "valid query", &QueryOptions{TokenBudget: -100})
	if err == nil {
		t.Fatal("expected config error")
	}
	if !types.IsCode(err, types.ErrInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
	if src.calls.Load() != 0 {
		t.Fatalf("no retrieval may happen before config validation, saw %d calls", src.calls.Load())
	}
}

func TestEngine_InvalidQueryIsHardError(t *testing.T) {
	t.Parallel()

	src := &countingSource{route: RouteDense}
	engine := newTestEngine(t, []CandidateSource{src})

	_, err := engine.RetrieveAndCompress(context.Background(), "   ", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !types.IsCode(err, types.ErrInvalidQuery) {
		t.Fatalf("expected INVALID_QUERY, got %v", err)
	}
}

func TestEngine_ZeroCandidatesIsNoResultsNotError(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, []CandidateSource{
		&countingSource{route: RouteDense},
		&countingSource{route: RouteSparse},
		&countingSource{route: RouteGraph},
	})

	result, err := engine.RetrieveAndCompress(context.Background(), "query with no matches anywhere", nil)
	if err != nil {
		t.Fatalf("zero candidates must not be an error: %v", err)
	}
	if !result.NoResults {
		t.Fatal("expected NoResults terminal state")
	}
	if len(result.Entries) != 0 {
		t.Fatalf("NoResults must carry no entries, got %d", len(result.Entries))
	}
}

func TestEngine_DegradedRouteSurfacesOnResult(t *testing.T) {
	t.Parallel()

	dense := &countingSource{route: RouteDense, candidates: []Candidate{
		stubCandidate(RouteDense, "d", "healthy span from dense route"),
	}}
	sparse := &countingSource{route: RouteSparse, err: errors.New("index offline")}

	engine := newTestEngine(t, []CandidateSource{dense, sparse})

	result, err := engine.RetrieveAndCompress(context.Background(), "healthy span", nil)
	if err != nil {
		t.Fatalf("degraded route must not fail the query: %v", err)
	}
	if !result.Degraded() {
		t.Fatal("result should be flagged degraded")
	}
	if len(result.DegradedRoutes) != 1 || result.DegradedRoutes[0] != RouteSparse {
		t.Fatalf("expected sparse degraded, got %v", result.DegradedRoutes)
	}
	if len(result.Entries) == 0 {
		t.Fatal("healthy route results should survive")
	}
}

func TestEngine_BudgetOverridePerQuery(t *testing.T) {
	t.Parallel()

	long := stubCandidate(RouteDense, "d", "a reasonably long span of text that does not fit a tiny budget at all, truly")
	short := stubCandidate(RouteDense, "e", "tiny span")

	engine := newTestEngine(t, []CandidateSource{
		&countingSource{route: RouteDense, candidates: []Candidate{long, short}},
	})

	result, err := engine.RetrieveAndCompress(context.Background(), "span text", &QueryOptions{TokenBudget: 5})
	if err != nil {
		t.Fatalf("RetrieveAndCompress: %v", err)
	}
	if result.TokenBudget != 5 {
		t.Fatalf("budget override lost: %d", result.TokenBudget)
	}
	if result.TotalTokens > 5 {
		t.Fatalf("budget exceeded: %d", result.TotalTokens)
	}
}

func TestEngine_IntentOverrideSkipsClassification(t *testing.T) {
	t.Parallel()

	mathScorer := &fixedScorer{name: ScoreSemantic, value: 1.0}
	engine := newTestEngine(t, []CandidateSource{
		&countingSource{route: RouteDense, candidates: []Candidate{
			stubCandidate(RouteDense, "d", "a span"),
		}},
	}, WithSemanticScorers(map[Intent]Scorer{IntentMathematicalConcept: mathScorer}))

	// "what is" 默认分类为 explanation; 覆盖为 mathematical 应启用注入评分器
	result, err := engine.RetrieveAndCompress(context.Background(), "what is a span",
		&QueryOptions{Intent: IntentMathematicalConcept})
	if err != nil {
		t.Fatalf("RetrieveAndCompress: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	if result.Entries[0].Breakdown[ScoreSemantic] != 1.0 {
		t.Fatalf("intent override did not select injected scorer: %v", result.Entries[0].Breakdown[ScoreSemantic])
	}
}

func TestEngine_InvalidEngineConfigRejectedAtConstruction(t *testing.T) {
	t.Parallel()

	cfg := DefaultEngineConfig()
	cfg.Compressor.TokenBudget = -1

	_, err := NewEngine(cfg, nil, zap.NewNop())
	if err == nil {
		t.Fatal("expected construction to fail")
	}
	if !types.IsCode(err, types.ErrInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestEngine_CustomFusionWeightsSurviveConstruction(t *testing.T) {
	t.Parallel()

	// 只设权重不设 KRRF: 默认化不得整体替换 Fusion 子配置
	cfg := EngineConfig{
		Fusion: FusionConfig{Weights: RouteWeights{Sparse: 1.0}},
	}
	dense := &countingSource{route: RouteDense, candidates: []Candidate{
		stubCandidate(RouteDense, "dense-doc", "learning span about dense retrieval route"),
	}}
	sparse := &countingSource{route: RouteSparse, candidates: []Candidate{
		stubCandidate(RouteSparse, "sparse-doc", "learning span about sparse retrieval route"),
	}}

	engine, err := NewEngine(cfg, []CandidateSource{dense, sparse}, zap.NewNop(),
		WithTokenizer(NewEstimatorTokenizer()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	if engine.config.Fusion.KRRF != DefaultFusionConfig().KRRF {
		t.Fatalf("zero KRRF not defaulted: %d", engine.config.Fusion.KRRF)
	}
	if engine.config.Fusion.Weights != (RouteWeights{Sparse: 1.0}) {
		t.Fatalf("explicit weights trampled: %+v", engine.config.Fusion.Weights)
	}

	result, err := engine.RetrieveAndCompress(context.Background(), "learning span retrieval route", nil)
	if err != nil {
		t.Fatalf("RetrieveAndCompress: %v", err)
	}
	// 稀疏权重 1.0 且稠密权重 0: 稀疏候选必须排第一
	if result.Entries[0].Source.DocumentID != "sparse-doc" {
		t.Fatalf("sparse-only weights lost: top entry is %s", result.Entries[0].Source.DocumentID)
	}
}

func TestEngine_PartialConfigKeepsSiblingFields(t *testing.T) {
	t.Parallel()

	cfg := EngineConfig{
		Router:     RouterConfig{PerRouteTimeout: 123 * time.Millisecond},
		Compressor: CompressorConfig{TokenBudget: 500, DedupSimilarityThreshold: 0.5},
	}
	engine, err := NewEngine(cfg, nil, zap.NewNop(), WithTokenizer(NewEstimatorTokenizer()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	if engine.config.Router.PerRouteTimeout != 123*time.Millisecond {
		t.Fatalf("explicit PerRouteTimeout trampled: %v", engine.config.Router.PerRouteTimeout)
	}
	if engine.config.Router.TopK != DefaultRouterConfig().TopK {
		t.Fatalf("zero TopK not defaulted: %d", engine.config.Router.TopK)
	}
	if engine.config.Compressor.TokenBudget != 500 {
		t.Fatalf("explicit TokenBudget trampled: %d", engine.config.Compressor.TokenBudget)
	}
	if engine.config.Compressor.DedupSimilarityThreshold != 0.5 {
		t.Fatalf("explicit DedupSimilarityThreshold trampled: %v", engine.config.Compressor.DedupSimilarityThreshold)
	}
}

func TestEngine_MetricsRecordRoutesAndScorerFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("testns", reg, zap.NewNop())

	dense := &countingSource{route: RouteDense, candidates: []Candidate{
		stubCandidate(RouteDense, "d", "healthy span"),
	}}
	sparse := &countingSource{route: RouteSparse, err: errors.New("backend down")}
	broken := &fixedScorer{name: ScoreSemantic, err: errors.New("model endpoint down")}

	engine := newTestEngine(t, []CandidateSource{dense, sparse},
		WithMetrics(collector),
		WithSemanticScorers(map[Intent]Scorer{IntentMathematicalConcept: broken}))

	result, err := engine.RetrieveAndCompress(context.Background(), "healthy span",
		&QueryOptions{Intent: IntentMathematicalConcept})
	if err != nil {
		t.Fatalf("RetrieveAndCompress: %v", err)
	}
	if result.PartiallyScored == 0 {
		t.Fatal("expected partially scored candidates")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	samples := make(map[string]int)
	for _, mf := range families {
		samples[mf.GetName()] = len(mf.GetMetric())
	}
	// 每条路由列表一个状态样本: dense ok + sparse degraded
	if samples["testns_route_searches_total"] != 2 {
		t.Fatalf("expected 2 route search samples, got %d", samples["testns_route_searches_total"])
	}
	if samples["testns_route_search_duration_seconds"] == 0 {
		t.Fatal("route search durations not recorded")
	}
	if samples["testns_scorer_failures_total"] == 0 {
		t.Fatal("scorer failures not recorded")
	}
}

func TestEngine_CacheHitOnWhitespaceVariant(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	manager, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer manager.Close()

	src := &countingSource{route: RouteDense, candidates: []Candidate{
		stubCandidate(RouteDense, "d", "a span about heaps"),
	}}
	engine := newTestEngine(t, []CandidateSource{src}, WithResultCache(manager))

	first, err := engine.RetrieveAndCompress(context.Background(), "what   is \t a heap", nil)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	callsAfterFirst := src.calls.Load()

	// 仅空白不同的查询应命中同一缓存键, 不再触达来源
	second, err := engine.RetrieveAndCompress(context.Background(), "what is a heap", nil)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if src.calls.Load() != callsAfterFirst {
		t.Fatalf("whitespace variant missed the cache: %d calls", src.calls.Load())
	}
	if len(second.Entries) != len(first.Entries) {
		t.Fatalf("cached result diverged: %d vs %d entries", len(second.Entries), len(first.Entries))
	}
}
