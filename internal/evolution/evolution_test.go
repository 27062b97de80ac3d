package evolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/audit"
	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
	"github.com/scrypster/memorycore/pkg/types"
)

type fakeEnricher struct {
	decision llm.ConsolidationDecision
}

func (f *fakeEnricher) Enrich(context.Context, string, string) llm.EnrichmentResult {
	return llm.EnrichmentResult{}
}
func (f *fakeEnricher) ProposeLinks(context.Context, string, []types.MemoryNote) []llm.LinkProposal {
	return nil
}
func (f *fakeEnricher) Consolidate(context.Context, types.MemoryNote, types.MemoryNote) llm.ConsolidationDecision {
	return f.decision
}

func newStore(t *testing.T, dim int) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore("file::memory:?cache=shared", dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.MemoryStore, ns types.Namespace, content string, importance int, vec []float32) *types.MemoryNote {
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
	return note
}

func seedWithKeywords(t *testing.T, store *sqlite.MemoryStore, ns types.Namespace, content string, importance int, vec []float32, keywords []string) *types.MemoryNote {
	t.Helper()
	note, err := types.NewMemoryNote(types.NewMemoryNoteParams{
		Namespace: ns, Content: content, MemoryType: types.MemoryTypeReference,
		Importance: importance, Embedding: vec, Keywords: keywords,
	})
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), note))
	return note
}

func TestRunConsolidation_MergeCreatesNewAndSupersedesBoth(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	a := seedWithKeywords(t, store, ns, "we use LibSQL for storage", 8, []float32{1, 0, 0, 0}, []string{"libsql"})
	b := seedWithKeywords(t, store, ns, "storage layer uses LibSQL", 5, []float32{1, 0, 0, 0}, []string{"libsql"})

	enricher := &fakeEnricher{decision: llm.ConsolidationDecision{
		Action:        llm.ConsolidationMerge,
		MergedContent: "we standardize storage on LibSQL",
	}}
	sched := New(store, enricher, nil, Config{ConsolidationMinSimilarity: 0.9})

	report, err := sched.RunConsolidation(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)

	gotA, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.IsArchived)
	require.NotNil(t, gotA.SupersededBy)

	gotB, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, gotB.IsArchived)
	require.NotNil(t, gotB.SupersededBy)
	assert.Equal(t, *gotA.SupersededBy, *gotB.SupersededBy)

	merged, err := store.Get(context.Background(), *gotA.SupersededBy)
	require.NoError(t, err)
	assert.Equal(t, "we standardize storage on LibSQL", merged.Content)
	assert.Equal(t, 8, merged.Importance)
	assert.Equal(t, []string{"libsql"}, merged.Keywords)
}

func TestRunConsolidation_SupersedeTransfersImportanceToSurvivor(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	a := seedWithKeywords(t, store, ns, "we use LibSQL for storage", 9, []float32{1, 0, 0, 0}, []string{"libsql"})
	b := seedWithKeywords(t, store, ns, "storage layer uses LibSQL", 4, []float32{1, 0, 0, 0}, []string{"libsql"})

	enricher := &fakeEnricher{decision: llm.ConsolidationDecision{
		Action: llm.ConsolidationSupersede,
		Kept:   b.ID,
		Dropped: a.ID,
	}}
	sched := New(store, enricher, nil, Config{ConsolidationMinSimilarity: 0.9})

	report, err := sched.RunConsolidation(context.Background(), &ns)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Superseded)

	gotA, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.IsArchived)
	require.NotNil(t, gotA.SupersededBy)
	assert.Equal(t, b.ID, *gotA.SupersededBy)

	gotB, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, gotB.Importance)
}

func TestRunConsolidation_KeepBothRecordsCooldownAndSkipsOnRetry(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	a := seedWithKeywords(t, store, ns, "the team prefers LibSQL", 5, []float32{1, 0, 0, 0}, []string{"libsql"})
	seedWithKeywords(t, store, ns, "LibSQL is the team's preference", 5, []float32{1, 0, 0, 0}, []string{"libsql"})

	enricher := &fakeEnricher{decision: llm.ConsolidationDecision{Action: llm.ConsolidationKeepBoth}}
	sched := New(store, enricher, nil, Config{ConsolidationMinSimilarity: 0.9, ConsolidationCooldownDays: 14})

	report, err := sched.RunConsolidation(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.KeptBoth)

	gotA, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, gotA.IsArchived)

	candidates, err := store.FindConsolidationCandidates(context.Background(), ns, 0.9)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	pairInCooldown, err := store.InCooldown(context.Background(), candidates[0].A.ID, candidates[0].B.ID, 14, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, pairInCooldown)
}

func TestRunConsolidation_ScopedToOneNamespaceIgnoresOthers(t *testing.T) {
	store := newStore(t, 4)
	p1 := types.ProjectNamespace("p1")
	p2 := types.ProjectNamespace("p2")
	seedWithKeywords(t, store, p1, "we use LibSQL for storage", 5, []float32{1, 0, 0, 0}, []string{"libsql"})
	seedWithKeywords(t, store, p1, "storage layer uses LibSQL", 5, []float32{1, 0, 0, 0}, []string{"libsql"})
	seedWithKeywords(t, store, p2, "the team prefers Postgres", 5, []float32{0, 1, 0, 0}, []string{"postgres"})
	seedWithKeywords(t, store, p2, "Postgres is the team's preference", 5, []float32{0, 1, 0, 0}, []string{"postgres"})

	enricher := &fakeEnricher{decision: llm.ConsolidationDecision{
		Action:        llm.ConsolidationMerge,
		MergedContent: "merged",
	}}
	sched := New(store, enricher, nil, Config{ConsolidationMinSimilarity: 0.9})

	report, err := sched.RunConsolidation(context.Background(), &p1)
	require.NoError(t, err)
	assert.Equal(t, p1.String(), report.Scope)
	assert.Equal(t, 1, report.Merged)

	candidates, err := store.FindConsolidationCandidates(context.Background(), p2, 0.9)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.False(t, candidates[0].A.IsArchived)
	assert.False(t, candidates[0].B.IsArchived)
}

func TestRunRecalibration_AppliesWeightedFormula(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	target := seed(t, store, ns, "a foundational architectural fact", 5, nil)

	linker, err := types.NewMemoryNote(types.NewMemoryNoteParams{
		Namespace: ns, Content: "references the foundational fact", MemoryType: types.MemoryTypeReference, Importance: 5,
	})
	require.NoError(t, err)
	link, err := types.NewMemoryLink(linker.ID, target.ID, types.LinkTypeReferences, 0.9, "", time.Now().UTC())
	require.NoError(t, err)
	linker.Links = []types.MemoryLink{link}
	require.NoError(t, store.Create(context.Background(), linker))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Access(context.Background(), target.ID))
	}

	sched := New(store, &fakeEnricher{}, nil, Config{})
	require.NoError(t, sched.RunRecalibration(context.Background()))

	// base=5, incoming_link_boost=min(1, 1/5)=0.2, access_boost=
	// 1-exp(-5/5)=0.632: round(5*0.7 + 0.2*0.2 + 0.632*0.1) = round(3.603) = 4.
	got, err := store.Get(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Importance)
}

func TestRunLinkDecay_DropsLinkBelowFloorAndDecaysOthers(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	a := seed(t, store, ns, "source memory for decay test", 5, nil)
	b := seed(t, store, ns, "target memory for decay test", 5, nil)

	old := time.Now().UTC().AddDate(0, 0, -200)
	// 0.10 * 0.9 = 0.09, below the 0.1 floor: dropped.
	weak := types.MemoryLink{Source: a.ID, Target: b.ID, LinkType: types.LinkTypeReferences, Strength: 0.10, CreatedAt: old}
	require.NoError(t, store.UpsertLink(context.Background(), weak))
	// 0.5 * 0.9 = 0.45, above the floor: survives, strength updated.
	survive := types.MemoryLink{Source: a.ID, Target: b.ID, LinkType: types.LinkTypeExtends, Strength: 0.5, CreatedAt: old}
	require.NoError(t, store.UpsertLink(context.Background(), survive))

	sched := New(store, &fakeEnricher{}, nil, Config{DecayThresholdDays: 90, DecayFactor: 0.9, DecayFloor: 0.1})
	require.NoError(t, sched.RunLinkDecay(context.Background()))

	links, err := store.ListLinks(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, types.LinkTypeExtends, links[0].LinkType)
	assert.InDelta(t, 0.45, links[0].Strength, 0.001)
}

func TestRunArchival_ArchivesLowImportanceInactiveMemory(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	note, err := types.NewMemoryNote(types.NewMemoryNoteParams{
		Namespace: ns, Content: "an old low-importance note", MemoryType: types.MemoryTypeReference, Importance: 1,
		Now: time.Now().UTC().AddDate(0, 0, -400),
	})
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), note))

	sched := New(store, &fakeEnricher{}, nil, Config{ArchivalImportanceThreshold: 1.0, ArchivalInactivityDays: 180})
	require.NoError(t, sched.RunArchival(context.Background()))

	got, err := store.Get(context.Background(), note.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
}

func TestRunArchival_KeepsRecentlyActiveMemory(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	note := seed(t, store, ns, "a fresh low-importance note", 1, nil)

	sched := New(store, &fakeEnricher{}, nil, Config{ArchivalImportanceThreshold: 1.0, ArchivalInactivityDays: 180})
	require.NoError(t, sched.RunArchival(context.Background()))

	got, err := store.Get(context.Background(), note.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
}

func TestScheduler_StartShutdownDrainsWithoutRunningAJobInTheInterim(t *testing.T) {
	store := newStore(t, 4)
	sched := New(store, &fakeEnricher{}, nil, Config{
		ConsolidationInterval: time.Hour,
		RecalibrationInterval: time.Hour,
		DecayInterval:         time.Hour,
		ArchivalInterval:      time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, sched.Shutdown(shutdownCtx))
}

func TestAuditLoggerSupplementsStructuredEvents(t *testing.T) {
	store := newStore(t, 4)
	ns := types.ProjectNamespace("p1")
	note := seed(t, store, ns, "a note worth recalibrating many times over", 5, nil)

	for i := 0; i < 50; i++ {
		require.NoError(t, store.Access(context.Background(), note.ID))
	}

	logger := audit.New(store)
	sched := New(store, &fakeEnricher{}, logger, Config{})
	require.NoError(t, sched.RunRecalibration(context.Background()))

	events, _, err := logger.Since(context.Background(), 0, 100)
	require.NoError(t, err)
	var sawRecalibrated bool
	for _, e := range events {
		if e.Op == storage.AuditRecalibrated {
			sawRecalibrated = true
		}
	}
	assert.True(t, sawRecalibrated)
}
