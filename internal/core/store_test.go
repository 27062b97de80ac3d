package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/access"
	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/evolution"
	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/pipeline"
	"github.com/scrypster/memorycore/internal/retriever"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
	"github.com/scrypster/memorycore/pkg/types"
)

type fakeEnricher struct {
	result   llm.EnrichmentResult
	decision llm.ConsolidationDecision
}

func (f *fakeEnricher) Enrich(context.Context, string, string) llm.EnrichmentResult {
	return f.result
}
func (f *fakeEnricher) ProposeLinks(context.Context, string, []types.MemoryNote) []llm.LinkProposal {
	return nil
}
func (f *fakeEnricher) Consolidate(context.Context, types.MemoryNote, types.MemoryNote) llm.ConsolidationDecision {
	return f.decision
}

type fakeEmbedder struct {
	vec []float32
	dim int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, nil }
func (f *fakeEmbedder) Dimension() int                                   { return f.dim }
func (f *fakeEmbedder) Model() string                                    { return "fake-embed-v1" }

func newTestStore(t *testing.T) (*Store, *sqlite.MemoryStore) {
	t.Helper()
	backend, err := sqlite.NewMemoryStore("file::memory:?cache=shared", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	enricher := &fakeEnricher{result: llm.EnrichmentResult{
		Summary:              "a summary",
		Keywords:             []string{"decision"},
		Tags:                 []string{"arch"},
		MemoryType:           types.MemoryTypeArchitectureDecision,
		ImportanceSuggestion: 8,
	}}
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3, 0.4}, dim: 4}

	s := New(backend, enricher, embedder, Config{
		Pipeline:  pipeline.Config{},
		Retriever: retriever.Config{},
		Evolution: evolution.Config{},
		Access:    access.DefaultPolicy{},
	})
	return s, backend
}

func readWriteCaller(ns types.Namespace) access.Caller {
	return access.Caller{Role: access.RoleReadWrite, HomeNamespace: ns}
}

func TestStore_RememberRecallGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	id, err := s.Remember(ctx, RememberParams{
		Content:   "we chose LibSQL for embedded storage",
		Context:   "architecture review",
		Namespace: &ns,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "we chose LibSQL for embedded storage", got.Content)
	assert.Equal(t, types.MemoryTypeArchitectureDecision, got.MemoryType)

	results, err := s.Recall(ctx, "LibSQL storage", retriever.Filters{Namespace: ns}, 10, readWriteCaller(ns))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Memory.ID)
}

func TestStore_UpdateAppliesPatchWithoutDuplicateAudit(t *testing.T) {
	s, backend := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	id, err := s.Remember(ctx, RememberParams{Content: "draft note", Namespace: &ns})
	require.NoError(t, err)

	newContent := "revised note"
	updated, err := s.Update(ctx, id, storage.Patch{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, "revised note", updated.Content)

	vec, model, err := backend.GetEmbedding(ctx, id)
	require.NoError(t, err, "content change must re-embed")
	assert.Len(t, vec, 4)
	assert.Equal(t, "fake-embed-v1", model)

	events, _, err := backend.Since(ctx, 0, 100)
	require.NoError(t, err)

	var updates int
	for _, e := range events {
		if e.Op == storage.AuditUpdated && e.MemoryID != nil && *e.MemoryID == id {
			updates++
		}
	}
	assert.Equal(t, 1, updates, "exactly one Updated audit entry should be appended per Update call")
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	id, err := s.Remember(ctx, RememberParams{Content: "to be archived", Namespace: &ns})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

func TestStore_ConsolidateScopesToNamespace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	_, err := s.Remember(ctx, RememberParams{Content: "we use LibSQL for storage", Namespace: &ns})
	require.NoError(t, err)
	_, err = s.Remember(ctx, RememberParams{Content: "storage layer uses LibSQL", Namespace: &ns})
	require.NoError(t, err)

	report, err := s.Consolidate(ctx, &ns)
	require.NoError(t, err)
	assert.Equal(t, ns.String(), report.Scope)
}

func TestStore_GraphReturnsRootAndNeighbors(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	id, err := s.Remember(ctx, RememberParams{Content: "root memory", Namespace: &ns})
	require.NoError(t, err)

	sub, err := s.Graph(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, id, sub.Root)
	require.NotEmpty(t, sub.Nodes)
	assert.Equal(t, id, sub.Nodes[0].ID)
}

func TestStore_ContextReturnsRecentAndImportant(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	_, err := s.Remember(ctx, RememberParams{Content: "first memory", Namespace: &ns})
	require.NoError(t, err)
	_, err = s.Remember(ctx, RememberParams{Content: "second memory", Namespace: &ns})
	require.NoError(t, err)

	summary, err := s.Context(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, ns, summary.Namespace)
	assert.Len(t, summary.Recent, 2)
	assert.Len(t, summary.Important, 2)
}

func TestStore_AuditSinceReturnsCreatedEntries(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ns := types.ProjectNamespace("acme")

	id, err := s.Remember(ctx, RememberParams{Content: "audited memory", Namespace: &ns})
	require.NoError(t, err)

	events, cursor, err := s.AuditSince(ctx, 0, 100)
	require.NoError(t, err)
	assert.Greater(t, cursor, int64(0))

	var found bool
	for _, e := range events {
		if e.MemoryID != nil && *e.MemoryID == id && e.Op == storage.AuditCreated {
			found = true
		}
	}
	assert.True(t, found, "expected a Created audit entry for the new memory")
}

func TestConfigFrom_MapsWeightsAndDurations(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	mapped := ConfigFrom(cfg)
	assert.InDelta(t, 0.30, mapped.Retriever.NormalWeights.Keyword, 0.001)
	assert.InDelta(t, 0.50, mapped.Retriever.DegradedWeights.Keyword, 0.001)
	assert.Equal(t, 24*time.Hour, mapped.Evolution.ConsolidationInterval)
	assert.Equal(t, 24*time.Hour, mapped.Evolution.ArchivalInterval)
}

func TestOpenBackend_ModeDispatch(t *testing.T) {
	backend, err := OpenBackend(":memory:", 4)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, err = OpenBackend("remote:memories.example.com:5432", 4)
	require.ErrorIs(t, err, storage.ErrConfig)
}

func TestStore_StartAndShutdownEvolution(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartEvolution(ctx))
	require.NoError(t, s.ShutdownEvolution(ctx))
}
