package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/access"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
	"github.com/scrypster/memorycore/pkg/types"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
func (f *fakeEmbedder) Dimension() int { return len(f.vec) }
func (f *fakeEmbedder) Model() string  { return "fake-embed-v1" }

func newStore(t *testing.T, dim int) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore("file::memory:?cache=shared", dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.MemoryStore, ns types.Namespace, content string, importance int, vec []float32) types.MemoryID {
	t.Helper()
	note, err := types.NewMemoryNote(types.NewMemoryNoteParams{
		Namespace:  ns,
		Content:    content,
		MemoryType: types.MemoryTypeReference,
		Importance: importance,
		Embedding:  vec,
	})
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), note))
	return note.ID
}

func readCaller(ns types.Namespace) access.Caller {
	return access.Caller{Role: access.RoleReadOnly, HomeNamespace: ns}
}

func TestRecall_FTSMatchRanksByKeyword(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	seed(t, store, ns, "we standardize on LibSQL for storage", 7, nil)
	seed(t, store, ns, "unrelated note about deployment pipelines", 5, nil)

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	results, err := r.Recall(context.Background(), "LibSQL storage", Filters{Namespace: ns}, 10, readCaller(ns))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Memory.Content, "LibSQL")
	assert.True(t, results[0].MatchedBy.FTS)
}

func TestRecall_EmptyQueryAndEmptyNamespaceReturnsEmpty(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("empty-project")
	r := New(store, nil, &access.DefaultPolicy{}, Config{})

	results, err := r.Recall(context.Background(), "", Filters{Namespace: ns}, 10, readCaller(ns))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecall_VectorSearchDegradesGracefullyWithoutEmbedder(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	seed(t, store, ns, "decision about the write pipeline", 6, []float32{1, 0, 0, 0})

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	results, err := r.Recall(context.Background(), "write pipeline decision", Filters{Namespace: ns}, 10, readCaller(ns))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].MatchedBy.Vector)
}

func TestRecall_ArchivedMemoriesExcludedByDefault(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	id := seed(t, store, ns, "stale fact about deployment cadence", 5, nil)
	require.NoError(t, store.Archive(context.Background(), id))

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	results, err := r.Recall(context.Background(), "deployment cadence", Filters{Namespace: ns}, 10, readCaller(ns))
	require.NoError(t, err)
	assert.Empty(t, results)

	resultsIncl, err := r.Recall(context.Background(), "deployment cadence", Filters{Namespace: ns, IncludeArchived: true}, 10, readCaller(ns))
	require.NoError(t, err)
	assert.Len(t, resultsIncl, 1)
}

func TestRecall_SessionScopeWidensToProjectButNotGlobalByDefault(t *testing.T) {
	store := newStore(t, 4)
	proj := types.ProjectNamespace("p1")
	sess := types.SessionNamespace("p1", "s1")
	glob := types.Global()

	seed(t, store, proj, "project-scoped fact about retries", 5, nil)
	seed(t, store, glob, "global fact about retries everywhere", 5, nil)

	r := New(store, nil, &access.DefaultPolicy{}, Config{AllowGlobalExpansion: false})
	results, err := r.Recall(context.Background(), "retries", Filters{Namespace: sess}, 10, readCaller(sess))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, proj, results[0].Memory.Namespace)
}

func TestRecall_GlobalExpansionWhenEnabled(t *testing.T) {
	store := newStore(t, 4)
	proj := types.ProjectNamespace("p1")
	glob := types.Global()

	seed(t, store, proj, "project fact about retries", 5, nil)
	seed(t, store, glob, "global fact about retries everywhere", 5, nil)

	r := New(store, nil, &access.DefaultPolicy{}, Config{AllowGlobalExpansion: true})
	results, err := r.Recall(context.Background(), "retries", Filters{Namespace: proj}, 10, readCaller(proj))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRecall_TieBreaksByImportanceThenRecency(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	seed(t, store, ns, "alpha decision about caching", 3, nil)
	seed(t, store, ns, "beta decision about caching", 9, nil)

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	results, err := r.Recall(context.Background(), "decision caching", Filters{Namespace: ns}, 10, readCaller(ns))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 9, results[0].Memory.Importance)
}

func TestRecall_MaxResultsTruncates(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	for i := 0; i < 5; i++ {
		seed(t, store, ns, "repeated fact about throttling behavior", 5, nil)
	}

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	results, err := r.Recall(context.Background(), "throttling behavior", Filters{Namespace: ns}, 2, readCaller(ns))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRecall_AccessAccountingIsAsyncAndDrainsOnWait(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	id := seed(t, store, ns, "a fact worth re-reading about quotas", 5, nil)

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	_, err := r.Recall(context.Background(), "quotas", Filters{Namespace: ns}, 10, readCaller(ns))
	require.NoError(t, err)
	r.Wait()

	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestRecall_MinImportanceFilterExcludesLowImportance(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	seed(t, store, ns, "a minor note about formatting preferences", 2, nil)
	seed(t, store, ns, "a critical note about formatting preferences", 8, nil)

	r := New(store, nil, &access.DefaultPolicy{}, Config{})
	results, err := r.Recall(context.Background(), "formatting preferences", Filters{Namespace: ns, MinImportance: 5}, 10, readCaller(ns))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 8, results[0].Memory.Importance)
}
