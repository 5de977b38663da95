package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ====== 检索路由类型 ======

// Route 代表一种检索策略路由.
type Route string

const (
	RouteDense  Route = "dense"  // Dense vector / semantic search
	RouteSparse Route = "sparse" // Sparse keyword / BM25 search
	RouteGraph  Route = "graph"  // Concept / knowledge graph search
)

// Routes 按确定性顺序列出全部路由, 融合与测试依赖该顺序.
var Routes = []Route{RouteDense, RouteSparse, RouteGraph}

// ====== 查询类型 ======

// Intent 代表查询的检测意图（封闭集合）.
type Intent string

const (
	IntentConceptExplanation       Intent = "concept_explanation"
	IntentPrerequisiteAnalysis     Intent = "prerequisite_analysis"
	IntentProblemSolving           Intent = "problem_solving"
	IntentComparativeLearning      Intent = "comparative_learning"
	IntentApplicationUnderstanding Intent = "application_understanding"
	IntentMathematicalConcept      Intent = "mathematical_concept"
	IntentGeneral                  Intent = "general"
)

// Difficulty 代表粗粒度的三级难度估计.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Query 是分析后的不可变查询对象.
type Query struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Intent     Intent     `json:"intent"`
	Concepts   []string   `json:"concepts,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
}

// SubQuery 是分解产生的子查询, 创建后只读.
// DependsOn 仅是排序提示（下标引用同批次其他子查询）, 不强制调度.
type SubQuery struct {
	Text      string `json:"text"`
	ParentID  string `json:"parent_id"`
	Index     int    `json:"index"`
	DependsOn []int  `json:"depends_on,omitempty"`
}

// ====== 候选类型 ======

// SourceRef 是内容片段到原始文档的溯源引用.
// 字段与摄取层的 Document/Chunk 模型对齐（document id、页码、偏移、来源类型）.
type SourceRef struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	SourceType string `json:"source_type,omitempty"` // textbook / paper / lecture / url
	Page       int    `json:"page,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Citations  int    `json:"citations,omitempty"`
}

// Candidate 是一条检索到的内容片段, 取回后不可变.
// ID 是内容寻址的: 规范化文本 + 来源 document id 的哈希.
type Candidate struct {
	ID            string     `json:"id"`
	Text          string     `json:"text"`
	Source        SourceRef  `json:"source"`
	Route         Route      `json:"route"`
	RawScore      float64    `json:"raw_score"`
	Concepts      []string   `json:"concepts,omitempty"`
	Prerequisites []string   `json:"prerequisites,omitempty"`
	Difficulty    Difficulty `json:"difficulty,omitempty"`
}

// FusedCandidate 是融合后的候选, 携带累积 RRF 分数与多路由贡献信息.
type FusedCandidate struct {
	Candidate
	FusedScore    float64       `json:"fused_score"`
	SourceRoutes  []Route       `json:"source_routes"`
	RouteRanks    map[Route]int `json:"route_ranks"` // 1-based best rank per route
	FirstSeenRank int           `json:"first_seen_rank"`
}

// ====== 评分类型 ======

// 命名评分函数. Breakdown 的键集合固定为这五个.
const (
	ScoreSemantic    = "semantic"
	ScorePedagogical = "pedagogical"
	ScoreConcept     = "concept"
	ScoreClarity     = "clarity"
	ScoreAuthority   = "authority"
)

// ScoredCandidate 是重排序后的候选, 保留每个评分函数的明细以供审计.
// 某个评分函数失败时 Breakdown 缺少对应键, PartiallyScored 置位,
// FailedScorers 记录失败的函数名.
type ScoredCandidate struct {
	Candidate
	Breakdown       map[string]float64 `json:"breakdown"`
	Composite       float64            `json:"composite"`
	FusedScore      float64            `json:"fused_score"`
	PartiallyScored bool               `json:"partially_scored,omitempty"`
	FailedScorers   []string           `json:"failed_scorers,omitempty"`
	TokenCount      int                `json:"token_count,omitempty"`
}

// ====== 压缩上下文 ======

// CompressedContext 是交给下游生成消费者的最终产物, 构建后不可变.
// Entries 按综合分数非递增排序, 除非 PrerequisiteOrdered 显式置位.
type CompressedContext struct {
	QueryID             string            `json:"query_id"`
	Entries             []ScoredCandidate `json:"entries"`
	TotalTokens         int               `json:"total_tokens"`
	TokenBudget         int               `json:"token_budget"`
	DroppedCount        int               `json:"dropped_count"`
	DegradedRoutes      []Route           `json:"degraded_routes,omitempty"`
	PartiallyScored     int               `json:"partially_scored,omitempty"`
	PrerequisiteOrdered bool              `json:"prerequisite_ordered,omitempty"`

	// 所有路由都没有返回候选时置位. 这是正常的终态而非错误.
	NoResults bool `json:"no_results,omitempty"`
}

// Degraded 报告是否有路由降级.
func (c *CompressedContext) Degraded() bool {
	return len(c.DegradedRoutes) > 0
}

// ====== 内容寻址 ======

// CanonicalizeText 折叠空白并去除首尾空格, 使仅有排版差异的文本共享同一哈希.
func CanonicalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ContentID 计算候选的内容寻址标识.
func ContentID(text, documentID string) string {
	h := sha256.New()
	h.Write([]byte(CanonicalizeText(text)))
	h.Write([]byte{0})
	h.Write([]byte(documentID))
	return hex.EncodeToString(h.Sum(nil))
}
