// 本文件实现检索路由器: 把子查询并发扇出到全部候选来源适配器,
// 按 (子查询, 路由) 收集有序候选列表. 路由器不做跨路由排序,
// 仅组装供融合引擎消费的原始列表.
package retrieval

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/learnrag/types"
)

// RouterConfig 配置检索路由器.
type RouterConfig struct {
	// 每路候选数上限
	TopK int `json:"top_k" yaml:"top_k"`

	// 单次适配器调用超时
	PerRouteTimeout time.Duration `json:"per_route_timeout" yaml:"per_route_timeout"`

	// 每路由的调用速率限制, 0 表示不限
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// DefaultRouterConfig 返回默认配置.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		TopK:            100,
		PerRouteTimeout: 2 * time.Second,
		RateLimitRPS:    0,
		RateLimitBurst:  1,
	}
}

// RouteList 是一个 (子查询, 路由) 对的检索结果.
// 候选按适配器原生分数降序, 不超过 TopK 条.
type RouteList struct {
	SubQueryIndex int           `json:"sub_query_index"`
	Route         Route         `json:"route"`
	Candidates    []Candidate   `json:"candidates"`
	Degraded      bool          `json:"degraded"`
	Elapsed       time.Duration `json:"elapsed"`
	Err           error         `json:"-"`
}

// RetrievalSet 是路由器的完整输出.
// Lists 按 (子查询下标, 路由声明顺序) 确定性排序, 融合的平分规则依赖该顺序.
type RetrievalSet struct {
	Lists          []RouteList `json:"lists"`
	DegradedRoutes []Route     `json:"degraded_routes,omitempty"`
}

// Empty 报告是否所有列表都为空.
func (rs *RetrievalSet) Empty() bool {
	for _, l := range rs.Lists {
		if len(l.Candidates) > 0 {
			return false
		}
	}
	return true
}

// Router 把子查询扇出到全部候选来源.
type Router struct {
	sources  []CandidateSource
	config   RouterConfig
	limiters map[Route]*rate.Limiter
	logger   *zap.Logger
}

// NewRouter 创建检索路由器.
func NewRouter(sources []CandidateSource, config RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = DefaultRouterConfig().TopK
	}
	if config.PerRouteTimeout <= 0 {
		config.PerRouteTimeout = DefaultRouterConfig().PerRouteTimeout
	}

	limiters := make(map[Route]*rate.Limiter, len(sources))
	if config.RateLimitRPS > 0 {
		burst := config.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		for _, src := range sources {
			limiters[src.Route()] = rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst)
		}
	}

	return &Router{
		sources:  sources,
		config:   config,
		limiters: limiters,
		logger:   logger.With(zap.String("component", "router")),
	}
}

// Retrieve 并发调用所有 (子查询, 来源) 对并收集结果.
// 超时或出错的适配器贡献空列表并标记降级, 不中止整个检索.
// 仅当 ctx 本身被取消时返回错误.
func (r *Router) Retrieve(ctx context.Context, subs []SubQuery, filters SearchFilters) (*RetrievalSet, error) {
	lists := make([]RouteList, len(subs)*len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	for si, sub := range subs {
		for ri, src := range r.sources {
			idx := si*len(r.sources) + ri
			sub, src := sub, src
			g.Go(func() error {
				lists[idx] = r.searchOne(gctx, sub, src, filters)
				return nil
			})
		}
	}
	// 任务自身从不返回错误, Wait 只会传播 ctx 取消
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := &RetrievalSet{Lists: lists}
	set.DegradedRoutes = collectDegraded(lists)

	r.logger.Debug("retrieval fan-out complete",
		zap.Int("sub_queries", len(subs)),
		zap.Int("routes", len(r.sources)),
		zap.Int("degraded", len(set.DegradedRoutes)))

	return set, nil
}

// searchOne 执行单次适配器调用, 错误就地降级.
func (r *Router) searchOne(ctx context.Context, sub SubQuery, src CandidateSource, filters SearchFilters) RouteList {
	list := RouteList{SubQueryIndex: sub.Index, Route: src.Route()}
	start := time.Now()

	if lim, ok := r.limiters[src.Route()]; ok {
		if err := lim.Wait(ctx); err != nil {
			list.Degraded = true
			list.Elapsed = time.Since(start)
			list.Err = types.NewError(types.ErrAdapterTimeout, "rate limiter wait cancelled").
				WithRoute(string(src.Route())).WithCause(err)
			return list
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.PerRouteTimeout)
	defer cancel()

	candidates, err := src.Search(callCtx, sub, r.config.TopK, filters)
	elapsed := time.Since(start)
	list.Elapsed = elapsed

	if err != nil {
		list.Degraded = true
		code := types.ErrAdapterError
		if errors.Is(err, context.DeadlineExceeded) {
			code = types.ErrAdapterTimeout
		}
		list.Err = types.NewError(code, "adapter search failed").
			WithRoute(string(src.Route())).
			WithRetryable(code == types.ErrAdapterTimeout).
			WithCause(err)

		r.logger.Warn("route degraded",
			zap.String("route", string(src.Route())),
			zap.Int("sub_query", sub.Index),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return list
	}

	if len(candidates) > r.config.TopK {
		candidates = candidates[:r.config.TopK]
	}
	list.Candidates = candidates
	return list
}

// collectDegraded 收集去重后的降级路由列表, 顺序与 Routes 声明一致.
func collectDegraded(lists []RouteList) []Route {
	degraded := make(map[Route]bool)
	for _, l := range lists {
		if l.Degraded {
			degraded[l.Route] = true
		}
	}
	if len(degraded) == 0 {
		return nil
	}

	out := make([]Route, 0, len(degraded))
	for _, route := range Routes {
		if degraded[route] {
			out = append(out, route)
		}
	}
	// 自定义路由跟在标准路由之后
	extra := make([]Route, 0)
	for route := range degraded {
		if route != RouteDense && route != RouteSparse && route != RouteGraph {
			extra = append(extra, route)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
