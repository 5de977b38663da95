package retrieval

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/BaSui01/learnrag/types"
)

func scoredFixture(docID, text string, composite float64) ScoredCandidate {
	return ScoredCandidate{
		Candidate: Candidate{
			ID:     ContentID(text, docID),
			Text:   text,
			Source: SourceRef{DocumentID: docID},
		},
		Composite: composite,
	}
}

func newTestCompressor(budget int) *Compressor {
	cfg := DefaultCompressorConfig()
	cfg.TokenBudget = budget
	return NewCompressor(cfg, NewEstimatorTokenizer(), zap.NewNop())
}

func TestCompressor_AdmitsWholeSpansWithinBudget(t *testing.T) {
	t.Parallel()

	c := newTestCompressor(1000)
	scored := []ScoredCandidate{
		scoredFixture("a", "Graphs model pairwise relations between objects.", 0.9),
		scoredFixture("b", "Breadth first search visits vertices level by level.", 0.8),
	}

	out, err := c.Compress(&Query{ID: "q1"}, scored)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("expected both spans admitted, got %d", len(out.Entries))
	}
	if out.DroppedCount != 0 {
		t.Fatalf("expected no drops, got %d", out.DroppedCount)
	}
	if out.TotalTokens > out.TokenBudget {
		t.Fatalf("total %d exceeds budget %d", out.TotalTokens, out.TokenBudget)
	}
	if out.QueryID != "q1" {
		t.Fatalf("query id not carried: %s", out.QueryID)
	}

	// 整片段准入: 文本逐字保留, 从不截断
	for i, e := range out.Entries {
		if e.Text != scored[i].Text {
			t.Fatalf("entry %d text was altered", i)
		}
	}
}

func TestCompressor_SkipsOversizedSpanButContinues(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("lengthy filler sentence about nothing important. ", 200)
	small := "Short useful definition of a stack."

	c := newTestCompressor(50)
	out, err := c.Compress(&Query{}, []ScoredCandidate{
		scoredFixture("big", big, 0.9),
		scoredFixture("small", small, 0.5),
	})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	if len(out.Entries) != 1 || out.Entries[0].Source.DocumentID != "small" {
		t.Fatalf("expected only the small span admitted, got %d entries", len(out.Entries))
	}
	if out.DroppedCount != 1 {
		t.Fatalf("expected 1 drop, got %d", out.DroppedCount)
	}
	// 超限片段绝不截断入场
	if strings.Contains(out.Entries[0].Text, "filler") {
		t.Fatal("oversized span leaked into output")
	}
}

func TestCompressor_NearDuplicateSameDocumentSkipped(t *testing.T) {
	t.Parallel()

	c := newTestCompressor(1000)
	out, err := c.Compress(&Query{}, []ScoredCandidate{
		scoredFixture("doc", "A queue is a first in first out data structure used in scheduling.", 0.9),
		scoredFixture("doc", "A queue is a first in first out data structure used in scheduling tasks.", 0.8),
	})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out.Entries) != 1 {
		t.Fatalf("near-duplicate from same document should be skipped, got %d entries", len(out.Entries))
	}
	if out.DroppedCount != 1 {
		t.Fatalf("expected 1 drop, got %d", out.DroppedCount)
	}
}

func TestCompressor_NearDuplicateDistinctPerspectiveKept(t *testing.T) {
	t.Parallel()

	// 相同内容但来源文档不同: 不同视角, 两者都保留
	c := newTestCompressor(1000)
	out, err := c.Compress(&Query{}, []ScoredCandidate{
		scoredFixture("textbook", "A queue is a first in first out data structure used in scheduling.", 0.9),
		scoredFixture("lecture", "A queue is a first in first out data structure used in scheduling tasks.", 0.8),
	})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("distinct-perspective duplicates should both be kept, got %d entries", len(out.Entries))
	}
}

func TestCompressor_DissimilarSpansAllKept(t *testing.T) {
	t.Parallel()

	c := newTestCompressor(1000)
	out, err := c.Compress(&Query{}, []ScoredCandidate{
		scoredFixture("doc", "Dijkstra finds shortest paths in weighted graphs.", 0.9),
		scoredFixture("doc", "Hash tables trade memory for constant expected lookup.", 0.8),
	})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("dissimilar spans from one document must both stay, got %d", len(out.Entries))
	}
}

func TestCompressor_PrerequisiteReorderIsFlagged(t *testing.T) {
	t.Parallel()

	advanced := scoredFixture("doc", "Tree rotations rebalance the structure after inserts.", 0.9)
	advanced.Concepts = []string{"rotation"}
	advanced.Prerequisites = []string{"binary search tree"}

	basic := scoredFixture("doc2", "A binary search tree stores keys in order.", 0.5)
	basic.Concepts = []string{"binary search tree"}

	c := newTestCompressor(1000)
	out, err := c.Compress(&Query{}, []ScoredCandidate{advanced, basic})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	if !out.PrerequisiteOrdered {
		t.Fatal("reorder must be explicitly flagged")
	}
	if out.Entries[0].Source.DocumentID != "doc2" {
		t.Fatalf("prerequisite span should come first, got %s", out.Entries[0].Source.DocumentID)
	}
}

func TestCompressor_NoPrerequisiteRelationKeepsScoreOrder(t *testing.T) {
	t.Parallel()

	c := newTestCompressor(1000)
	out, err := c.Compress(&Query{}, []ScoredCandidate{
		scoredFixture("a", "First ranked span about recursion.", 0.9),
		scoredFixture("b", "Second ranked span about iteration.", 0.5),
	})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out.PrerequisiteOrdered {
		t.Fatal("no relations, flag must stay false")
	}
	if out.Entries[0].Source.DocumentID != "a" {
		t.Fatal("score order must be preserved")
	}
}

func TestCompressor_ProgressionDisabledNeverReorders(t *testing.T) {
	t.Parallel()

	advanced := scoredFixture("doc", "Tree rotations rebalance the structure after inserts.", 0.9)
	advanced.Concepts = []string{"rotation"}
	advanced.Prerequisites = []string{"binary search tree"}
	basic := scoredFixture("doc2", "A binary search tree stores keys in order.", 0.5)
	basic.Concepts = []string{"binary search tree"}

	cfg := DefaultCompressorConfig()
	cfg.EnableProgression = false
	c := NewCompressor(cfg, NewEstimatorTokenizer(), zap.NewNop())

	out, err := c.Compress(&Query{}, []ScoredCandidate{advanced, basic})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out.PrerequisiteOrdered {
		t.Fatal("progression disabled, flag must stay false")
	}
	if out.Entries[0].Source.DocumentID != "doc" {
		t.Fatal("score order must be preserved when progression is off")
	}
}

func TestCompressor_CyclicPrerequisitesFallBackToScoreOrder(t *testing.T) {
	t.Parallel()

	a := scoredFixture("a", "Span alpha depends on beta somehow.", 0.9)
	a.Concepts = []string{"alpha"}
	a.Prerequisites = []string{"beta"}
	b := scoredFixture("b", "Span beta depends on alpha somehow too.", 0.5)
	b.Concepts = []string{"beta"}
	b.Prerequisites = []string{"alpha"}

	c := newTestCompressor(1000)
	out, err := c.Compress(&Query{}, []ScoredCandidate{a, b})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out.PrerequisiteOrdered {
		t.Fatal("cycle cannot be topologically ordered, flag must stay false")
	}
	if out.Entries[0].Source.DocumentID != "a" {
		t.Fatal("cycle falls back to score order")
	}
}

func TestCompressor_InvalidBudgetIsConfigError(t *testing.T) {
	t.Parallel()

	cfg := DefaultCompressorConfig()
	cfg.TokenBudget = -5
	c := &Compressor{config: cfg, tokenizer: NewEstimatorTokenizer(), logger: zap.NewNop()}

	_, err := c.Compress(&Query{}, []ScoredCandidate{scoredFixture("a", "text", 0.5)})
	if err == nil {
		t.Fatal("expected config error")
	}
	if !types.IsCode(err, types.ErrInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

// Property: 任意输入下压缩产物恒在预算内, 且条目文本从不被截断.
func TestProperty_CompressionNeverExceedsBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("total tokens within budget and spans intact", prop.ForAll(
		func(texts []string, budget int) bool {
			scored := make([]ScoredCandidate, len(texts))
			byID := make(map[string]string, len(texts))
			for i, text := range texts {
				docID := "doc"
				scored[i] = scoredFixture(docID, text, 1.0-float64(i)*0.01)
				byID[scored[i].ID] = text
			}

			c := newTestCompressor(budget)
			out, err := c.Compress(&Query{}, scored)
			if err != nil {
				return false
			}

			if out.TotalTokens > budget {
				return false
			}
			if len(out.Entries)+out.DroppedCount != len(scored) {
				return false
			}
			for _, e := range out.Entries {
				if byID[e.ID] != e.Text {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.RegexMatch(`[a-z]{2,8}( [a-z]{2,8}){0,30}`)),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}
