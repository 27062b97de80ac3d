package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var _ storage.SearchProvider = (*MemoryStore)(nil)

// FTSSearch returns ranked candidates from the memories_fts virtual table.
// FTS5's bm25() rank is unbounded and more-negative-is-better; it is
// remapped to a [0,1) score by x/(1+x) with x = max(0, -rank), so a better
// match scores higher and the retrieval fusion stage can treat every
// ranking signal uniformly.
func (s *MemoryStore) FTSSearch(ctx context.Context, tokens []string, opts storage.SearchOptions) ([]storage.ScoredMemory, error) {
	opts.Normalize()
	if len(tokens) == 0 {
		return nil, nil
	}

	ftsQuery := sanitizeFTSQuery(tokens)
	where, args := namespaceAndFilterClause(opts)

	query := fmt.Sprintf(`
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND %s
		ORDER BY rank
		LIMIT ?`, where)

	fullArgs := append([]any{ftsQuery}, args...)
	fullArgs = append(fullArgs, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, fullArgs...)
	if err != nil {
		if stale := classifyFTSErr(err); errors.Is(stale, storage.ErrIndexStale) {
			return nil, stale
		}
		if opts.FuzzyFallback {
			return s.ftsFallback(ctx, tokens, opts)
		}
		return nil, fmt.Errorf("sqlite: fts search: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id   types.MemoryID
		rank float64
	}
	var hits []hit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		hits = append(hits, hit{types.MemoryID(id), rank})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(hits) == 0 && opts.FuzzyFallback {
		return s.ftsFallback(ctx, tokens, opts)
	}

	out := make([]storage.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		m, err := s.Get(ctx, h.id)
		if err != nil {
			continue
		}
		x := math.Max(0, -h.rank)
		out = append(out, storage.ScoredMemory{Memory: m, Score: x / (1 + x)})
	}
	return out, nil
}

// ftsFallback re-runs the MATCH as an OR of the individual quoted-prefix
// terms when the first query returns nothing or fails. sanitizeFTSQuery
// already OR-joins the terms, so on an empty first result it matches the
// same rows as the first query.
func (s *MemoryStore) ftsFallback(ctx context.Context, tokens []string, opts storage.SearchOptions) ([]storage.ScoredMemory, error) {
	relaxed := opts
	relaxed.FuzzyFallback = false
	where, args := namespaceAndFilterClause(opts)
	query := fmt.Sprintf(`
		SELECT m.id, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND %s
		ORDER BY rank
		LIMIT ?`, where)
	fullArgs := append([]any{sanitizeFTSQuery(tokens)}, args...)
	fullArgs = append(fullArgs, relaxed.Limit)

	rows, err := s.db.QueryContext(ctx, query, fullArgs...)
	if err != nil {
		if stale := classifyFTSErr(err); errors.Is(stale, storage.ErrIndexStale) {
			return nil, stale
		}
		return nil, fmt.Errorf("sqlite: fts fallback: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredMemory
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		m, err := s.Get(ctx, types.MemoryID(id))
		if err != nil {
			continue
		}
		x := math.Max(0, -rank)
		out = append(out, storage.ScoredMemory{Memory: m, Score: x / (1 + x)})
	}
	return out, rows.Err()
}

// classifyFTSErr maps FTS5 corruption signatures onto ErrIndexStale so the
// retriever can repair and retry once; anything else passes through.
func classifyFTSErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "fts5: corrupt") || strings.Contains(msg, "missing row") {
		return fmt.Errorf("%w: %v", storage.ErrIndexStale, err)
	}
	return err
}

// sanitizeFTSQuery converts free-form tokens into a quoted-prefix OR query
// that can't trip FTS5's syntax error on stray operators/quotes.
func sanitizeFTSQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(`"%s"*`, t))
	}
	if len(parts) == 0 {
		return `""`
	}
	return strings.Join(parts, " OR ")
}

func namespaceAndFilterClause(opts storage.SearchOptions) (string, []any) {
	where := []string{"1=1"}
	var args []any

	if opts.Namespace.Kind != "" {
		where = append(where, "m.namespace_kind = ? AND m.namespace_project = ? AND m.namespace_session_id = ?")
		args = append(args, string(opts.Namespace.Kind), opts.Namespace.Project, opts.Namespace.SessionID)
	}
	if !opts.IncludeArchived {
		where = append(where, "m.is_archived = 0")
	}
	if len(opts.MemoryTypes) > 0 {
		placeholders := make([]string, len(opts.MemoryTypes))
		for i, t := range opts.MemoryTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("m.memory_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.MinImportance > 0 {
		where = append(where, "m.importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if !opts.TimeWindowStart.IsZero() {
		where = append(where, "m.created_at >= ?")
		args = append(args, opts.TimeWindowStart)
	}
	if !opts.TimeWindowEnd.IsZero() {
		where = append(where, "m.created_at <= ?")
		args = append(args, opts.TimeWindowEnd)
	}
	return strings.Join(where, " AND "), args
}

// vectorSearchMaxCandidates bounds how many embeddings are loaded into Go
// memory for an in-process cosine scan. Deployments past this scale should
// move to the postgres+pgvector backend for an indexed ANN search.
const vectorSearchMaxCandidates = 10_000

// VectorSearch ranks memories by cosine similarity against vec, loading up
// to vectorSearchMaxCandidates embeddings (most-recent first) into memory.
func (s *MemoryStore) VectorSearch(ctx context.Context, vec []float32, opts storage.SearchOptions) ([]storage.ScoredMemory, error) {
	opts.Normalize()
	if len(vec) == 0 {
		return nil, nil
	}

	where, args := namespaceAndFilterClause(opts)
	query := fmt.Sprintf(`
		SELECT e.memory_id, e.embedding, e.dimension
		FROM memory_embeddings e
		JOIN memories m ON m.id = e.memory_id
		WHERE %s
		ORDER BY m.created_at DESC
		LIMIT ?`, where)
	args = append(args, vectorSearchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: vector search: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id    types.MemoryID
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var id string
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			continue
		}
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil || len(embedding) != len(vec) {
			continue
		}
		candidates = append(candidates, scored{types.MemoryID(id), cosineSimilarity(vec, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	out := make([]storage.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		m, err := s.Get(ctx, c.id)
		if err != nil {
			continue
		}
		out = append(out, storage.ScoredMemory{Memory: m, Score: c.score})
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// FindConsolidationCandidates scans non-archived memories in scope for pairs
// whose embeddings exceed minSimilarity and whose keyword/tag sets overlap,
// feeding the consolidation evolution job. The O(n^2) embedding comparison
// is acceptable at the personal/project-memory scale this backend targets;
// the postgres+pgvector backend is the path past that.
func (s *MemoryStore) FindConsolidationCandidates(ctx context.Context, scope types.Namespace, minSimilarity float64) ([]storage.ConsolidationCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id
		FROM memories m
		WHERE m.is_archived = 0 AND m.namespace_kind = ? AND m.namespace_project = ? AND m.namespace_session_id = ?`,
		string(scope.Kind), scope.Project, scope.SessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: consolidation candidate scan: %w", err)
	}

	var ids []types.MemoryID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, types.MemoryID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memories := make([]*types.MemoryNote, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		memories = append(memories, m)
	}

	var candidates []storage.ConsolidationCandidate
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			a, b := memories[i], memories[j]
			if a.Embedding == nil || b.Embedding == nil || len(a.Embedding) != len(b.Embedding) {
				continue
			}
			sim := cosineSimilarity(a.Embedding, b.Embedding)
			if sim < minSimilarity {
				continue
			}
			if !overlaps(a.Keywords, b.Keywords) && !overlaps(a.Tags, b.Tags) {
				continue
			}
			candidates = append(candidates, storage.ConsolidationCandidate{A: a, B: b, Similarity: sim})
		}
	}
	return candidates, nil
}

func overlaps(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[strings.ToLower(v)] = true
	}
	for _, v := range b {
		if set[strings.ToLower(v)] {
			return true
		}
	}
	return false
}
