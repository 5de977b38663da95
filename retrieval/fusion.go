// 本文件实现融合引擎: 加权 Reciprocal Rank Fusion.
// 把多个 (子查询, 路由) 有序列表合并为一个去重, 全局有序的候选列表.
// 候选在多个路由或多个子查询中出现时贡献累加, 以此奖励多路一致性.
package retrieval

import (
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/types"
)

// RouteWeights 是各路由在融合中的权重表.
// Difficulty 不是一条真实路由: 它作为难度匹配加成的权重桶,
// 候选难度与查询难度一致时按相同的 RRF 公式追加贡献.
type RouteWeights struct {
	Dense      float64 `json:"dense" yaml:"dense"`
	Sparse     float64 `json:"sparse" yaml:"sparse"`
	Graph      float64 `json:"graph" yaml:"graph"`
	Difficulty float64 `json:"difficulty" yaml:"difficulty"`
}

// DefaultRouteWeights 返回默认路由权重.
// 源资料中的默认值并不一致, 权重表始终可按意图配置覆盖.
func DefaultRouteWeights() RouteWeights {
	return RouteWeights{Dense: 0.40, Sparse: 0.25, Graph: 0.25, Difficulty: 0.10}
}

// weightOf 返回路由对应的权重, 未知路由权重为 0.
func (w RouteWeights) weightOf(route Route) float64 {
	switch route {
	case RouteDense:
		return w.Dense
	case RouteSparse:
		return w.Sparse
	case RouteGraph:
		return w.Graph
	default:
		return 0
	}
}

// FusionConfig 配置融合引擎.
type FusionConfig struct {
	// RRF 常数 k, 抑制头部排名的支配作用
	KRRF int `json:"rrf_k" yaml:"rrf_k"`

	// 路由权重
	Weights RouteWeights `json:"route_weights" yaml:"route_weights"`
}

// DefaultFusionConfig 返回默认配置.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		KRRF:    60,
		Weights: DefaultRouteWeights(),
	}
}

// Fuser 融合引擎. 单线程确定性处理: 相同输入与权重必然产出相同顺序.
type Fuser struct {
	config FusionConfig
	logger *zap.Logger
}

// NewFuser 创建融合引擎.
func NewFuser(config FusionConfig, logger *zap.Logger) *Fuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KRRF <= 0 {
		config.KRRF = DefaultFusionConfig().KRRF
	}
	return &Fuser{
		config: config,
		logger: logger.With(zap.String("component", "fuser")),
	}
}

// fusedEntry 累积单个内容标识的全部贡献.
type fusedEntry struct {
	candidate     Candidate
	score         float64
	routes        map[Route]bool
	routeRanks    map[Route]int
	firstSeenRank int
	firstSeenSeq  int // 遍历序号, 保证平分时稳定
}

// Fuse 融合路由器输出. query 提供难度匹配加成所需的难度估计.
//
// 全部列表为空时返回 NO_RESULTS 错误值 —— 这是可表示的终态,
// 调用方用 types.IsCode 判别, 不应视为需要中止的异常.
func (f *Fuser) Fuse(query *Query, set *RetrievalSet) ([]FusedCandidate, error) {
	entries := make(map[string]*fusedEntry)
	seq := 0

	// Lists 的顺序由路由器保证确定性: 子查询下标优先, 路由声明顺序次之
	for _, list := range set.Lists {
		w := f.config.Weights.weightOf(list.Route)
		for i, cand := range list.Candidates {
			rank := i + 1
			id := ContentID(cand.Text, cand.Source.DocumentID)

			entry, ok := entries[id]
			if !ok {
				cand.ID = id
				entry = &fusedEntry{
					candidate:     cand,
					routes:        make(map[Route]bool),
					routeRanks:    make(map[Route]int),
					firstSeenRank: rank,
					firstSeenSeq:  seq,
				}
				entries[id] = entry
				seq++
			}

			// 加权 RRF: score += w / (k + rank)
			entry.score += w / float64(f.config.KRRF+rank)
			entry.routes[list.Route] = true
			if prev, ok := entry.routeRanks[list.Route]; !ok || rank < prev {
				entry.routeRanks[list.Route] = rank
			}
			if rank < entry.firstSeenRank {
				entry.firstSeenRank = rank
			}

			// 难度感知加成
			if f.config.Weights.Difficulty > 0 &&
				cand.Difficulty != "" && query != nil && cand.Difficulty == query.Difficulty {
				entry.score += f.config.Weights.Difficulty / float64(f.config.KRRF+rank)
			}
		}
	}

	if len(entries) == 0 {
		return nil, types.NewError(types.ErrNoResults, "all routes returned zero candidates")
	}

	fused := make([]FusedCandidate, 0, len(entries))
	for _, e := range entries {
		routes := make([]Route, 0, len(e.routes))
		for _, route := range Routes {
			if e.routes[route] {
				routes = append(routes, route)
			}
		}
		fused = append(fused, FusedCandidate{
			Candidate:     e.candidate,
			FusedScore:    e.score,
			SourceRoutes:  routes,
			RouteRanks:    e.routeRanks,
			FirstSeenRank: e.firstSeenRank,
		})
	}

	// 排序: 融合分数降序, 平分按最早首见排名, 再按来源 id 保证确定性
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		if fused[i].FirstSeenRank != fused[j].FirstSeenRank {
			return fused[i].FirstSeenRank < fused[j].FirstSeenRank
		}
		if fused[i].Source.DocumentID != fused[j].Source.DocumentID {
			return fused[i].Source.DocumentID < fused[j].Source.DocumentID
		}
		return fused[i].ID < fused[j].ID
	})

	f.logger.Debug("fusion complete",
		zap.Int("lists", len(set.Lists)),
		zap.Int("unique_candidates", len(fused)))

	return fused, nil
}
