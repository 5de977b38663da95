package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/types"
)

// stubSource 是可编程的候选来源, 用于路由器与引擎测试.
type stubSource struct {
	route      Route
	candidates []Candidate
	err        error
	delay      time.Duration
}

func (s *stubSource) Route() Route { return s.route }

func (s *stubSource) Search(ctx context.Context, sq SubQuery, topK int, filters SearchFilters) ([]Candidate, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if filters.Match(c.Source) {
			out = append(out, c)
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func stubCandidate(route Route, docID, text string) Candidate {
	return Candidate{
		ID:       ContentID(text, docID),
		Text:     text,
		Source:   SourceRef{DocumentID: docID},
		Route:    route,
		RawScore: 1.0,
	}
}

func TestRouter_FansOutToAllSources(t *testing.T) {
	t.Parallel()

	dense := &stubSource{route: RouteDense, candidates: []Candidate{stubCandidate(RouteDense, "d1", "dense span")}}
	sparse := &stubSource{route: RouteSparse, candidates: []Candidate{stubCandidate(RouteSparse, "d2", "sparse span")}}
	graph := &stubSource{route: RouteGraph, candidates: []Candidate{stubCandidate(RouteGraph, "d3", "graph span")}}

	router := NewRouter([]CandidateSource{dense, sparse, graph}, DefaultRouterConfig(), zap.NewNop())

	subs := []SubQuery{{Text: "q1", Index: 0}, {Text: "q2", Index: 1}}
	set, err := router.Retrieve(context.Background(), subs, SearchFilters{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(set.Lists) != 6 {
		t.Fatalf("expected 6 lists (2 subs x 3 routes), got %d", len(set.Lists))
	}
	if len(set.DegradedRoutes) != 0 {
		t.Fatalf("expected no degraded routes, got %v", set.DegradedRoutes)
	}

	// 列表顺序确定: 子查询主序, 路由次序
	for si := 0; si < 2; si++ {
		for ri, route := range Routes {
			list := set.Lists[si*3+ri]
			if list.SubQueryIndex != si || list.Route != route {
				t.Fatalf("list %d out of order: sub=%d route=%s", si*3+ri, list.SubQueryIndex, list.Route)
			}
			if len(list.Candidates) != 1 {
				t.Fatalf("expected 1 candidate in list %d, got %d", si*3+ri, len(list.Candidates))
			}
		}
	}
}

func TestRouter_FailedRouteDegradesNotFatal(t *testing.T) {
	t.Parallel()

	dense := &stubSource{route: RouteDense, candidates: []Candidate{stubCandidate(RouteDense, "d1", "dense span")}}
	sparse := &stubSource{route: RouteSparse, err: errors.New("index offline")}
	graph := &stubSource{route: RouteGraph, candidates: []Candidate{stubCandidate(RouteGraph, "d3", "graph span")}}

	router := NewRouter([]CandidateSource{dense, sparse, graph}, DefaultRouterConfig(), zap.NewNop())

	set, err := router.Retrieve(context.Background(), []SubQuery{{Text: "q", Index: 0}}, SearchFilters{})
	if err != nil {
		t.Fatalf("Retrieve should not fail on adapter error: %v", err)
	}

	if len(set.DegradedRoutes) != 1 || set.DegradedRoutes[0] != RouteSparse {
		t.Fatalf("expected sparse degraded, got %v", set.DegradedRoutes)
	}

	sparseList := set.Lists[1]
	if !sparseList.Degraded {
		t.Fatal("sparse list should be marked degraded")
	}
	if len(sparseList.Candidates) != 0 {
		t.Fatal("degraded list should be empty")
	}
	if !types.IsCode(sparseList.Err, types.ErrAdapterError) {
		t.Fatalf("expected ADAPTER_ERROR, got %v", sparseList.Err)
	}

	// 其余路由照常返回
	if len(set.Lists[0].Candidates) != 1 || len(set.Lists[2].Candidates) != 1 {
		t.Fatal("healthy routes should still return candidates")
	}
}

func TestRouter_SlowRouteTimesOutAsRetryable(t *testing.T) {
	t.Parallel()

	cfg := DefaultRouterConfig()
	cfg.PerRouteTimeout = 20 * time.Millisecond

	slow := &stubSource{route: RouteDense, delay: 200 * time.Millisecond,
		candidates: []Candidate{stubCandidate(RouteDense, "d1", "late span")}}
	fast := &stubSource{route: RouteSparse, candidates: []Candidate{stubCandidate(RouteSparse, "d2", "fast span")}}

	router := NewRouter([]CandidateSource{slow, fast}, cfg, zap.NewNop())

	set, err := router.Retrieve(context.Background(), []SubQuery{{Text: "q", Index: 0}}, SearchFilters{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	denseList := set.Lists[0]
	if !denseList.Degraded {
		t.Fatal("slow route should be degraded")
	}
	if !types.IsCode(denseList.Err, types.ErrAdapterTimeout) {
		t.Fatalf("expected ADAPTER_TIMEOUT, got %v", denseList.Err)
	}
	if !types.IsRetryable(denseList.Err) {
		t.Fatal("timeout should be retryable")
	}
	if len(set.Lists[1].Candidates) != 1 {
		t.Fatal("fast route should be unaffected")
	}
}

func TestRouter_CancelledContextIsFatal(t *testing.T) {
	t.Parallel()

	src := &stubSource{route: RouteDense, candidates: []Candidate{stubCandidate(RouteDense, "d1", "span")}}
	router := NewRouter([]CandidateSource{src}, DefaultRouterConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := router.Retrieve(ctx, []SubQuery{{Text: "q", Index: 0}}, SearchFilters{})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestRouter_RateLimitDegradesExcessCalls(t *testing.T) {
	t.Parallel()

	cfg := DefaultRouterConfig()
	cfg.RateLimitRPS = 0.1 // 每 10 秒一个令牌, 突发 1
	cfg.RateLimitBurst = 1

	src := &stubSource{route: RouteDense, candidates: []Candidate{stubCandidate(RouteDense, "d1", "span")}}
	router := NewRouter([]CandidateSource{src}, cfg, zap.NewNop())

	// 截止期远短于下一个令牌, 超额调用立即降级而非阻塞
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	subs := []SubQuery{{Text: "q1", Index: 0}, {Text: "q2", Index: 1}}
	set, err := router.Retrieve(ctx, subs, SearchFilters{})
	if err != nil {
		t.Fatalf("rate-limited call should degrade, not fail: %v", err)
	}

	degraded := 0
	for _, list := range set.Lists {
		if list.Degraded {
			degraded++
			if !types.IsCode(list.Err, types.ErrAdapterTimeout) {
				t.Fatalf("expected ADAPTER_TIMEOUT, got %v", list.Err)
			}
			continue
		}
		if len(list.Candidates) != 1 {
			t.Fatalf("admitted call should return candidates, got %d", len(list.Candidates))
		}
	}
	if degraded != 1 {
		t.Fatalf("burst 1 admits exactly one call, got %d degraded of %d lists", degraded, len(set.Lists))
	}
	if len(set.DegradedRoutes) != 1 || set.DegradedRoutes[0] != RouteDense {
		t.Fatalf("expected dense degraded, got %v", set.DegradedRoutes)
	}
}

func TestRouter_TopKCapsEachList(t *testing.T) {
	t.Parallel()

	candidates := make([]Candidate, 10)
	for i := range candidates {
		candidates[i] = stubCandidate(RouteDense, "doc", string(rune('a'+i)))
	}

	cfg := DefaultRouterConfig()
	cfg.TopK = 3
	router := NewRouter([]CandidateSource{&stubSource{route: RouteDense, candidates: candidates}}, cfg, zap.NewNop())

	set, err := router.Retrieve(context.Background(), []SubQuery{{Text: "q", Index: 0}}, SearchFilters{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(set.Lists[0].Candidates) != 3 {
		t.Fatalf("expected TopK=3 candidates, got %d", len(set.Lists[0].Candidates))
	}
}
