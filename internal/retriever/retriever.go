// Package retriever implements the hybrid recall pipeline: scope
// expansion, full-text search, vector search, graph expansion, weighted
// fusion, filtering, tie-break ordering, and asynchronous access
// accounting.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/memorycore/internal/access"
	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/textsearch"
	"github.com/scrypster/memorycore/pkg/types"
)

// Backend is the slice of the storage capability set recall needs.
type Backend interface {
	storage.MemoryStore
	storage.SearchProvider
	storage.GraphProvider
}

// Weights is the fusion weight tuple w_kw/w_vec/w_graph/w_imp/w_rec.
// Mirrors internal/config.FusionWeights so the retriever package doesn't
// import internal/config (avoiding an import cycle with callers that wire
// both together at the composition root).
type Weights struct {
	Keyword    float64
	Vector     float64
	Graph      float64
	Importance float64
	Recency    float64
}

// Config tunes every stage of Recall.
type Config struct {
	KeywordCandidates int // k_kw
	VectorCandidates  int // k_vec
	GraphSeedTop      int // T
	GraphMaxHops      int
	NormalWeights     Weights
	DegradedWeights   Weights // used when the query has no embedding
	// AllowGlobalExpansion gates whether priority-widening may reach the
	// Global namespace at all. Default off: a Session/Project caller stays
	// inside its own project unless policy opts Global recall in.
	AllowGlobalExpansion bool
}

func (c *Config) normalize() {
	if c.KeywordCandidates <= 0 {
		c.KeywordCandidates = 50
	}
	if c.VectorCandidates <= 0 {
		c.VectorCandidates = 50
	}
	if c.GraphSeedTop <= 0 {
		c.GraphSeedTop = 5
	}
	if c.GraphMaxHops <= 0 {
		c.GraphMaxHops = 2
	}
	if c.NormalWeights == (Weights{}) {
		c.NormalWeights = Weights{Keyword: 0.30, Vector: 0.30, Graph: 0.20, Importance: 0.10, Recency: 0.10}
	}
	if c.DegradedWeights == (Weights{}) {
		c.DegradedWeights = Weights{Keyword: 0.50, Vector: 0, Graph: 0.20, Importance: 0.15, Recency: 0.15}
	}
}

// Retriever is the entry point for recall(). It holds only the capability
// handles given to New; there is no ambient or package-level state.
type Retriever struct {
	store    Backend
	embedder llm.Embedder // nil is valid: FTS-only degraded mode
	policy   access.Policy
	cfg      Config

	// accessWG tracks outstanding async Storage.access calls so tests can
	// drain them deterministically; production callers never wait on it.
	accessWG sync.WaitGroup
}

// New constructs a Retriever.
func New(store Backend, embedder llm.Embedder, policy access.Policy, cfg Config) *Retriever {
	cfg.normalize()
	if policy == nil {
		policy = &access.DefaultPolicy{}
	}
	return &Retriever{store: store, embedder: embedder, policy: policy, cfg: cfg}
}

// Filters narrows what Recall may return.
type Filters struct {
	Namespace       types.Namespace
	MemoryTypes     []types.MemoryType
	Tags            []string
	MinImportance   int
	IncludeArchived bool
	TimeWindowStart time.Time
	TimeWindowEnd   time.Time
}

// MatchedBy names which recall stage(s) contributed a result.
type MatchedBy struct {
	FTS   bool
	Vector bool
	Graph bool
}

// ScoredResult is one entry of Recall's ordered return value.
type ScoredResult struct {
	Memory    *types.MemoryNote
	Score     float64
	MatchedBy MatchedBy
}

// Recall runs the full hybrid pipeline: widen scope, gather FTS and vector
// candidates, expand the graph from the top seeds, fuse the per-stage
// scores, filter, order, and account accesses. It never raises on empty
// results — an empty or all-stop-word query, or a namespace with nothing in
// it, simply yields an empty slice.
func (r *Retriever) Recall(ctx context.Context, query string, filters Filters, maxResults int, caller access.Caller) ([]ScoredResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	scopes := r.expandScope(filters.Namespace, caller)

	merged := make(map[types.MemoryID]*candidate)
	var order []types.MemoryID

	tokens := textsearch.Tokenize(query)

	var queryVec []float32
	degraded := true
	if r.embedder != nil && len(tokens) > 0 {
		if vec, err := r.embedder.Embed(ctx, query); err == nil && len(vec) > 0 {
			queryVec = vec
			degraded = false
		}
	}

	ftsRepaired := false
	for _, ns := range scopes {
		opts := toSearchOptions(ns, filters, r.cfg.KeywordCandidates)

		if len(tokens) > 0 {
			ftsHits, err := r.store.FTSSearch(ctx, tokens, opts)
			if errors.Is(err, storage.ErrIndexStale) && !ftsRepaired {
				// Repair once and retry once; a second staleness in the same
				// call surfaces as Retryable rather than looping.
				ftsRepaired = true
				if rerr := r.repairIndex(ctx); rerr == nil {
					ftsHits, err = r.store.FTSSearch(ctx, tokens, opts)
				}
			}
			if errors.Is(err, storage.ErrIndexStale) {
				return nil, fmt.Errorf("%w: full-text index repairing", storage.ErrRetryable)
			}
			if err != nil {
				return nil, err
			}
			for _, h := range ftsHits {
				c := mergeCandidate(merged, &order, h.Memory)
				c.sKW = maxFloat(c.sKW, h.Score)
				c.matched.FTS = true
			}
		}

		if len(queryVec) > 0 {
			vecOpts := opts
			vecOpts.Limit = r.cfg.VectorCandidates
			vecHits, err := r.store.VectorSearch(ctx, queryVec, vecOpts)
			if err != nil {
				return nil, err
			}
			for _, h := range vecHits {
				c := mergeCandidate(merged, &order, h.Memory)
				c.sVec = maxFloat(c.sVec, h.Score)
				c.matched.Vector = true
			}
		}

		if len(merged) >= maxResults {
			break
		}
	}

	// Graph expansion seeded from the strongest FTS/vector candidates.
	seeds := topSeeds(merged, order, r.cfg.GraphSeedTop)
	if len(seeds) > 0 {
		bounds := storage.GraphBounds{MaxHops: r.cfg.GraphMaxHops}
		result, err := r.store.GraphExpand(ctx, seeds, bounds)
		if err == nil {
			for _, n := range result.Nodes {
				c := mergeCandidate(merged, &order, n.Memory)
				c.sGraph = maxFloat(c.sGraph, n.Score)
				c.matched.Graph = true
			}
			if marker, ok := r.store.(interface {
				MarkLinkTraversed(ctx context.Context, source, target types.MemoryID, linkType types.LinkType, at time.Time) error
			}); ok {
				at := time.Now().UTC()
				for _, e := range result.Edges {
					_ = marker.MarkLinkTraversed(ctx, e.From, e.To, e.LinkType, at)
				}
			}
		}
	}

	weights := r.cfg.NormalWeights
	if degraded {
		weights = r.cfg.DegradedWeights
	}

	now := time.Now().UTC()
	results := make([]ScoredResult, 0, len(order))
	for _, id := range order {
		c := merged[id]
		m := c.memory
		if !filters.IncludeArchived && m.IsArchived {
			continue
		}
		if m.SupersededBy != nil {
			continue
		}
		if !matchesFilters(m, filters) {
			continue
		}
		score := weights.Keyword*c.sKW + weights.Vector*c.sVec + weights.Graph*c.sGraph +
			weights.Importance*(float64(m.Importance)/10.0) + weights.Recency*types.Recency(m.UpdatedAt, now)
		results = append(results, ScoredResult{Memory: m, Score: score, MatchedBy: c.matched})
	}

	results = access.FilterScored(r.policy, caller, results, scoredVisible)

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.UpdatedAt.Equal(b.Memory.UpdatedAt) {
			return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}

	r.accessAsync(results)

	return results, nil
}

// scoredVisible adapts ScoredResult to the access.Visible(caller, *MemoryNote)
// signature used by the filter helper.
func scoredVisible(s ScoredResult) *types.MemoryNote { return s.Memory }

// indexRepairer is the optional backend capability Recall uses to rebuild a
// stale full-text index before retrying.
type indexRepairer interface {
	ReindexAll(ctx context.Context) error
}

func (r *Retriever) repairIndex(ctx context.Context) error {
	rep, ok := r.store.(indexRepairer)
	if !ok {
		return fmt.Errorf("retriever: backend cannot rebuild its index")
	}
	return rep.ReindexAll(ctx)
}

// candidate accumulates a memory's per-stage scores as it is discovered
// across scopes and stages.
type candidate struct {
	memory  *types.MemoryNote
	sKW     float64
	sVec    float64
	sGraph  float64
	matched MatchedBy
}

func mergeCandidate(merged map[types.MemoryID]*candidate, order *[]types.MemoryID, m *types.MemoryNote) *candidate {
	c, ok := merged[m.ID]
	if !ok {
		c = &candidate{memory: m}
		merged[m.ID] = c
		*order = append(*order, m.ID)
	}
	return c
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

// topSeeds returns the top-N candidate ids by the max of their FTS/vector
// scores seen so far, before graph expansion contributes anything.
func topSeeds(merged map[types.MemoryID]*candidate, order []types.MemoryID, n int) []types.MemoryID {
	type ranked struct {
		id    types.MemoryID
		score float64
	}
	list := make([]ranked, 0, len(order))
	for _, id := range order {
		c := merged[id]
		list = append(list, ranked{id, maxFloat(c.sKW, c.sVec)})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	if len(list) > n {
		list = list[:n]
	}
	out := make([]types.MemoryID, len(list))
	for i, r := range list {
		out[i] = r.id
	}
	return out
}

func matchesFilters(m *types.MemoryNote, f Filters) bool {
	if len(f.MemoryTypes) > 0 {
		found := false
		for _, t := range f.MemoryTypes {
			if m.MemoryType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinImportance > 0 && m.Importance < f.MinImportance {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, got := range m.Tags {
				if want == got {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if !f.TimeWindowStart.IsZero() && m.CreatedAt.Before(f.TimeWindowStart) {
		return false
	}
	if !f.TimeWindowEnd.IsZero() && m.CreatedAt.After(f.TimeWindowEnd) {
		return false
	}
	return true
}

func toSearchOptions(ns types.Namespace, f Filters, limit int) storage.SearchOptions {
	opts := storage.SearchOptions{
		Namespace:       ns,
		MemoryTypes:     f.MemoryTypes,
		Tags:            f.Tags,
		MinImportance:   f.MinImportance,
		IncludeArchived: f.IncludeArchived,
		TimeWindowStart: f.TimeWindowStart,
		TimeWindowEnd:   f.TimeWindowEnd,
		Limit:           limit,
		FuzzyFallback:   true,
	}
	opts.Normalize()
	return opts
}

// expandScope implements priority-widening: start at the given namespace,
// and if its kind permits a parent, include it too, stopping at Global
// unless AllowGlobalExpansion is set, and never crossing project
// boundaries unless the caller is privileged.
func (r *Retriever) expandScope(ns types.Namespace, caller access.Caller) []types.Namespace {
	scopes := []types.Namespace{ns}
	cur := ns
	for {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		if parent.Kind == types.NamespaceGlobal && !r.cfg.AllowGlobalExpansion {
			break
		}
		if parent.Kind == types.NamespaceGlobal && !r.policy.CanExpandAcrossProjects(caller) {
			break
		}
		scopes = append(scopes, parent)
		cur = parent
	}
	return scopes
}

// accessAsync records access counts for the returned results outside the
// read path, fire-and-forget: a panic or error here must never surface to
// the caller of Recall.
func (r *Retriever) accessAsync(results []ScoredResult) {
	ids := make([]types.MemoryID, len(results))
	for i, res := range results {
		ids[i] = res.Memory.ID
	}
	r.accessWG.Add(1)
	go func() {
		defer r.accessWG.Done()
		defer func() { recover() }()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range ids {
			_ = r.store.Access(ctx, id)
		}
	}()
}

// Wait blocks until outstanding async access-accounting goroutines drain.
// Production callers never need this; tests use it to assert on
// access_count without a sleep.
func (r *Retriever) Wait() {
	r.accessWG.Wait()
}
