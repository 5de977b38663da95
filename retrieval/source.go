package retrieval

import (
	"context"
)

// ====== 候选来源适配器 ======

// SearchFilters 限定适配器搜索范围, 零值表示不过滤.
type SearchFilters struct {
	SourceTypes []string `json:"source_types,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Match 报告来源引用是否通过过滤条件.
func (f SearchFilters) Match(ref SourceRef) bool {
	if len(f.SourceTypes) > 0 && !containsString(f.SourceTypes, ref.SourceType) {
		return false
	}
	if len(f.DocumentIDs) > 0 && !containsString(f.DocumentIDs, ref.DocumentID) {
		return false
	}
	return true
}

// CandidateSource 是三种检索路由的统一只读接口.
// 实现必须是无状态共享资源: Search 不得修改内部索引,
// 并发查询之间不共享可变状态.
//
// 返回的候选按适配器自身原生分数降序排列, 数量不超过 topK.
// 超时或失败由 Router 降级处理, 实现只需如实返回 error.
type CandidateSource interface {
	// Route 返回该适配器所属路由.
	Route() Route

	// Search 对单个子查询执行检索.
	Search(ctx context.Context, sq SubQuery, topK int, filters SearchFilters) ([]Candidate, error)
}

// ContentSpan 是可被索引到适配器的内容片段, 携带全部溯源与概念元数据.
type ContentSpan struct {
	Text          string     `json:"text"`
	Source        SourceRef  `json:"source"`
	Concepts      []string   `json:"concepts,omitempty"`
	Prerequisites []string   `json:"prerequisites,omitempty"`
	Difficulty    Difficulty `json:"difficulty,omitempty"`
	Embedding     []float64  `json:"embedding,omitempty"`
}

// toCandidate 把内容片段转换为带路由与分数的候选.
func (s ContentSpan) toCandidate(route Route, score float64) Candidate {
	return Candidate{
		ID:            ContentID(s.Text, s.Source.DocumentID),
		Text:          s.Text,
		Source:        s.Source,
		Route:         route,
		RawScore:      score,
		Concepts:      s.Concepts,
		Prerequisites: s.Prerequisites,
		Difficulty:    s.Difficulty,
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
