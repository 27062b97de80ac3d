package sqlite

import (
	"context"
	"math"
	"testing"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

func TestFTSSearchBasicMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hit := mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: types.Global(),
		Content:   "The quick brown fox jumps over the lazy dog",
	})
	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: types.Global(),
		Content:   "Completely unrelated content about machinery and engines",
	})

	results, err := s.FTSSearch(ctx, []string{"fox"}, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("FTSSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Memory.ID != hit.ID {
		t.Errorf("matched %s, want %s", results[0].Memory.ID, hit.ID)
	}
	if results[0].Score <= 0 || results[0].Score > 1 {
		t.Errorf("score = %f, want (0,1]", results[0].Score)
	}
}

func TestFTSSearchMatchesSummaryAndKeywords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: types.Global(),
		Content:   "body text with nothing distinctive",
		Summary:   "a summary mentioning kubernetes",
		Keywords:  []string{"orchestration"},
	})

	bySummary, err := s.FTSSearch(ctx, []string{"kubernetes"}, storage.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySummary) != 1 {
		t.Errorf("summary hits = %d, want 1", len(bySummary))
	}

	byKeyword, err := s.FTSSearch(ctx, []string{"orchestration"}, storage.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(byKeyword) != 1 {
		t.Errorf("keyword hits = %d, want 1", len(byKeyword))
	}
}

func TestFTSSearchEmptyTokensReturnsNothing(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, types.NewMemoryNoteParams{Namespace: types.Global(), Content: "some content"})

	results, err := s.FTSSearch(context.Background(), nil, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("FTSSearch(nil tokens): %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestFTSSearchRespectsNamespaceFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p1 := types.ProjectNamespace("p1")
	p2 := types.ProjectNamespace("p2")

	mustCreate(t, s, types.NewMemoryNoteParams{Namespace: p1, Content: "fact about deadlines in p1"})
	mustCreate(t, s, types.NewMemoryNoteParams{Namespace: p2, Content: "fact about deadlines in p2"})

	results, err := s.FTSSearch(ctx, []string{"deadlines"}, storage.SearchOptions{Namespace: p1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if !results[0].Memory.Namespace.Equal(p1) {
		t.Errorf("leaked a result from %v", results[0].Memory.Namespace)
	}
}

func TestFTSSearchExcludesArchivedByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := mustCreate(t, s, types.NewMemoryNoteParams{Namespace: types.Global(), Content: "retired fact about pagers"})
	if err := s.Archive(ctx, note.ID); err != nil {
		t.Fatal(err)
	}

	results, err := s.FTSSearch(ctx, []string{"pagers"}, storage.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("archived memory leaked into default search")
	}

	withArchived, err := s.FTSSearch(ctx, []string{"pagers"}, storage.SearchOptions{IncludeArchived: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(withArchived) != 1 {
		t.Errorf("IncludeArchived results = %d, want 1", len(withArchived))
	}
}

func TestFTSSearchFuzzyFallbackRescuesPartialMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, types.NewMemoryNoteParams{Namespace: types.Global(), Content: "only the word zephyr appears here"})

	results, err := s.FTSSearch(ctx, []string{"zephyr", "nonexistentterm"}, storage.SearchOptions{FuzzyFallback: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("fallback results = %d, want 1", len(results))
	}
}

func TestVectorSearchRanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	near := mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: types.Global(), Content: "almost parallel",
		Embedding: []float32{1, 0.1, 0, 0}, EmbeddingModel: "test-embed",
	})
	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: types.Global(), Content: "orthogonal",
		Embedding: []float32{0, 0, 1, 0}, EmbeddingModel: "test-embed",
	})

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, storage.SearchOptions{Limit: 2})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Memory.ID != near.ID {
		t.Errorf("nearest = %s, want %s", results[0].Memory.ID, near.ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered by similarity: %f < %f", results[0].Score, results[1].Score)
	}
}

func TestVectorSearchEmptyQueryVectorReturnsNothing(t *testing.T) {
	s := newTestStore(t)
	results, err := s.VectorSearch(context.Background(), nil, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("VectorSearch(nil): %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestVectorSearchSkipsMemoriesWithoutEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, types.NewMemoryNoteParams{Namespace: types.Global(), Content: "no vector stored for this one"})
	embedded := mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: types.Global(), Content: "vectorized",
		Embedding: []float32{0.5, 0.5, 0, 0}, EmbeddingModel: "test-embed",
	})

	results, err := s.VectorSearch(ctx, []float32{0.5, 0.5, 0, 0}, storage.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Memory.ID != embedded.ID {
		t.Errorf("expected only the embedded memory, got %d results", len(results))
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %f, want 1", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors = %f, want 0", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched lengths = %f, want 0", got)
	}
	if got := cosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors = %f, want 0", got)
	}
}

func TestFindConsolidationCandidatesRequiresSimilarityAndOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("p1")

	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: ns, Content: "we use LibSQL for storage",
		Keywords: []string{"libsql"}, Embedding: []float32{1, 0, 0, 0}, EmbeddingModel: "test-embed",
	})
	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: ns, Content: "storage layer standardizes on LibSQL",
		Keywords: []string{"libsql"}, Embedding: []float32{0.99, 0.01, 0, 0}, EmbeddingModel: "test-embed",
	})
	// Similar vector but disjoint keywords/tags: not a candidate.
	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: ns, Content: "unrelated topic with a coincidentally close vector",
		Keywords: []string{"deploys"}, Embedding: []float32{0.98, 0.02, 0, 0}, EmbeddingModel: "test-embed",
	})
	// Overlapping keywords but dissimilar vector: not a candidate.
	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: ns, Content: "LibSQL mentioned in passing",
		Keywords: []string{"libsql"}, Embedding: []float32{0, 1, 0, 0}, EmbeddingModel: "test-embed",
	})

	candidates, err := s.FindConsolidationCandidates(ctx, ns, 0.9)
	if err != nil {
		t.Fatalf("FindConsolidationCandidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	if candidates[0].Similarity < 0.9 {
		t.Errorf("similarity = %f, want >= 0.9", candidates[0].Similarity)
	}
}

func TestFindConsolidationCandidatesScopedToNamespace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p1 := types.ProjectNamespace("p1")
	p2 := types.ProjectNamespace("p2")

	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: p1, Content: "duplicate one",
		Keywords: []string{"dup"}, Embedding: []float32{1, 0, 0, 0}, EmbeddingModel: "test-embed",
	})
	mustCreate(t, s, types.NewMemoryNoteParams{
		Namespace: p2, Content: "duplicate two in another project",
		Keywords: []string{"dup"}, Embedding: []float32{1, 0, 0, 0}, EmbeddingModel: "test-embed",
	})

	candidates, err := s.FindConsolidationCandidates(ctx, p1, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates across namespaces = %d, want 0", len(candidates))
	}
}
