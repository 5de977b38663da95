// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 查询流水线指标
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	// 检索路由指标
	routeSearchesTotal  *prometheus.CounterVec
	routeSearchDuration *prometheus.HistogramVec
	routesDegradedTotal *prometheus.CounterVec

	// 重排序指标
	candidatesScored    *prometheus.CounterVec
	partiallyScored     prometheus.Counter
	scorerFailuresTotal *prometheus.CounterVec

	// 压缩指标
	contextTokens     prometheus.Histogram
	candidatesDropped prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器. registerer 为 nil 时使用默认注册表.
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 查询流水线指标
	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of retrieval queries",
		},
		[]string{"intent", "status"},
	)

	c.queryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"intent"},
	)

	// 检索路由指标
	c.routeSearchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_searches_total",
			Help:      "Total number of per-route searches",
		},
		[]string{"route", "status"},
	)

	c.routeSearchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_search_duration_seconds",
			Help:      "Per-route search duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	c.routesDegradedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_degraded_total",
			Help:      "Total number of degraded route searches",
		},
		[]string{"route"},
	)

	// 重排序指标
	c.candidatesScored = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scored_total",
			Help:      "Total number of candidates scored during reranking",
		},
		[]string{"intent"},
	)

	c.partiallyScored = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_partially_scored_total",
			Help:      "Total number of candidates scored with one or more scorers unavailable",
		},
	)

	c.scorerFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scorer_failures_total",
			Help:      "Total number of individual scorer failures",
		},
		[]string{"scorer"},
	)

	// 压缩指标
	c.contextTokens = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Token count of compressed contexts",
			Buckets:   prometheus.ExponentialBuckets(250, 2, 8),
		},
	)

	c.candidatesDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Total number of candidates dropped during compression",
		},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 查询指标记录
// =============================================================================

// RecordQuery 记录一次端到端查询
func (c *Collector) RecordQuery(intent, status string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(intent, status).Inc()
	c.queryDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

// =============================================================================
// 🔀 检索路由指标记录
// =============================================================================

// RecordRouteSearch 记录一次路由检索
func (c *Collector) RecordRouteSearch(route, status string, duration time.Duration) {
	c.routeSearchesTotal.WithLabelValues(route, status).Inc()
	c.routeSearchDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRouteDegraded 记录一次路由降级
func (c *Collector) RecordRouteDegraded(route string) {
	c.routesDegradedTotal.WithLabelValues(route).Inc()
}

// =============================================================================
// ⚖️ 重排序指标记录
// =============================================================================

// RecordRerank 记录一批候选的重排序结果
func (c *Collector) RecordRerank(intent string, scored, partial int) {
	c.candidatesScored.WithLabelValues(intent).Add(float64(scored))
	c.partiallyScored.Add(float64(partial))
}

// RecordScorerFailure 记录单个评分器失败
func (c *Collector) RecordScorerFailure(scorer string) {
	c.scorerFailuresTotal.WithLabelValues(scorer).Inc()
}

// =============================================================================
// 🗜️ 压缩指标记录
// =============================================================================

// RecordCompression 记录一次上下文压缩
func (c *Collector) RecordCompression(totalTokens, dropped int) {
	c.contextTokens.Observe(float64(totalTokens))
	c.candidatesDropped.Add(float64(dropped))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}
