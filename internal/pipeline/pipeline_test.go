package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/namespace"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
	"github.com/scrypster/memorycore/pkg/types"
)

// fakeEnricher and fakeEmbedder let tests control degraded-mode behavior
// deterministically instead of hitting a real model.

type fakeEnricher struct {
	result      llm.EnrichmentResult
	proposals   []llm.LinkProposal
	decision    llm.ConsolidationDecision
}

func (f *fakeEnricher) Enrich(context.Context, string, string) llm.EnrichmentResult { return f.result }
func (f *fakeEnricher) ProposeLinks(context.Context, string, []types.MemoryNote) []llm.LinkProposal {
	return f.proposals
}
func (f *fakeEnricher) Consolidate(context.Context, types.MemoryNote, types.MemoryNote) llm.ConsolidationDecision {
	return f.decision
}

type fakeEmbedder struct {
	vec  []float32
	dim  int
	err  error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
func (f *fakeEmbedder) Dimension() int { return f.dim }
func (f *fakeEmbedder) Model() string  { return "fake-embed-v1" }

func newStore(t *testing.T, dim int) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore("file::memory:?cache=shared", dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func defaultEnrichment() llm.EnrichmentResult {
	return llm.EnrichmentResult{
		Summary:              "a summary",
		Keywords:             []string{"decision"},
		Tags:                 []string{"arch"},
		MemoryType:           types.MemoryTypeArchitectureDecision,
		ImportanceSuggestion: 8,
	}
}

func TestRemember_HappyPathPersistsAndReturnsID(t *testing.T) {
	store := newStore(t, 4)
	enricher := &fakeEnricher{result: defaultEnrichment()}
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}, dim: 4}
	p := New(store, enricher, embedder, Config{})

	res, err := p.Remember(context.Background(), RememberParams{
		RawContent: "decided to use single-writer txn model",
		Resolved:   namespace.Resolution{Namespace: types.ProjectNamespace("p1")},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.False(t, res.EnrichmentDegraded)
	assert.False(t, res.EmbeddingDegraded)

	stored, err := store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "decided to use single-writer txn model", stored.Content)
	assert.Equal(t, types.MemoryTypeArchitectureDecision, stored.MemoryType)
	assert.Equal(t, types.ProjectNamespace("p1"), stored.Namespace)
}

func TestRemember_EmbeddingFailureDegradesButSucceeds(t *testing.T) {
	store := newStore(t, 4)
	enricher := &fakeEnricher{result: defaultEnrichment()}
	embedder := &fakeEmbedder{err: errors.New("embedding service down"), dim: 4}
	p := New(store, enricher, embedder, Config{})

	res, err := p.Remember(context.Background(), RememberParams{
		RawContent: "note",
		Resolved:   namespace.Resolution{Namespace: types.Global()},
	})
	require.NoError(t, err)
	assert.True(t, res.EmbeddingDegraded)

	stored, err := store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Embedding)
}

func TestRemember_NilEmbedderIsDegradedMode(t *testing.T) {
	store := newStore(t, 4)
	enricher := &fakeEnricher{result: defaultEnrichment()}
	p := New(store, enricher, nil, Config{})

	res, err := p.Remember(context.Background(), RememberParams{
		RawContent: "note without any embedder configured",
		Resolved:   namespace.Resolution{Namespace: types.Global()},
	})
	require.NoError(t, err)
	assert.True(t, res.EmbeddingDegraded)
}

func TestRemember_EmptyContentIsRejected(t *testing.T) {
	store := newStore(t, 4)
	enricher := &fakeEnricher{result: defaultEnrichment()}
	p := New(store, enricher, nil, Config{})

	_, err := p.Remember(context.Background(), RememberParams{
		RawContent: "",
		Resolved:   namespace.Resolution{Namespace: types.Global()},
	})
	require.Error(t, err)
}

func TestRemember_LinkProposalsFilteredByStrengthAndCap(t *testing.T) {
	store := newStore(t, 4)

	// Seed two candidate memories in the same namespace so propose_links has
	// real targets to choose among.
	seedEnricher := &fakeEnricher{result: defaultEnrichment()}
	seedEmbedder := &fakeEmbedder{vec: []float32{1, 0, 0, 0}, dim: 4}
	seedPipeline := New(store, seedEnricher, seedEmbedder, Config{})
	ctx := context.Background()
	ns := types.ProjectNamespace("p1")

	first, err := seedPipeline.Remember(ctx, RememberParams{RawContent: "use LibSQL for storage", Resolved: namespace.Resolution{Namespace: ns}})
	require.NoError(t, err)
	second, err := seedPipeline.Remember(ctx, RememberParams{RawContent: "LibSQL migration plan", Resolved: namespace.Resolution{Namespace: ns}})
	require.NoError(t, err)

	proposingEnricher := &fakeEnricher{
		result: defaultEnrichment(),
		proposals: []llm.LinkProposal{
			{Target: first.ID, LinkType: types.LinkTypeReferences, Strength: 0.9, Reason: "strong"},
			{Target: second.ID, LinkType: types.LinkTypeReferences, Strength: 0.2, Reason: "below floor"},
			{Target: types.NewMemoryID(), LinkType: types.LinkTypeReferences, Strength: 0.95, Reason: "fabricated target"},
		},
	}
	p := New(store, proposingEnricher, seedEmbedder, Config{MinLinkStrength: 0.5, MaxLinksPerMemory: 10})

	res, err := p.Remember(ctx, RememberParams{RawContent: "we standardize on LibSQL", Resolved: namespace.Resolution{Namespace: ns}})
	require.NoError(t, err)

	stored, err := store.Get(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, stored.Links, 1)
	assert.Equal(t, first.ID, stored.Links[0].Target)
}
