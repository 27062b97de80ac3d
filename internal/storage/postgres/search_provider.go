//go:build postgres

package postgres

import (
	"context"
	"fmt"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var _ storage.SearchProvider = (*MemoryStore)(nil)

// FTSSearch ranks candidates with a to_tsquery match against the
// trigger-maintained search_vector column, remapping ts_rank's
// non-negative, unbounded score into [0,1) via x/(1+x) so fusion can treat
// either backend's keyword score uniformly.
func (s *MemoryStore) FTSSearch(ctx context.Context, tokens []string, opts storage.SearchOptions) ([]storage.ScoredMemory, error) {
	opts.Normalize()
	if len(tokens) == 0 {
		return nil, nil
	}
	query := strings.Join(tokens, " | ")
	where, args, next := namespaceAndFilterClause(opts, 2)
	_ = next

	sqlText := fmt.Sprintf(`
		SELECT id, ts_rank(search_vector, to_tsquery('english', $1)) AS rank
		FROM memories
		WHERE search_vector @@ to_tsquery('english', $1) AND %s
		ORDER BY rank DESC
		LIMIT %d`, where, opts.Limit)

	fullArgs := append([]any{query}, args...)
	rows, err := s.db.QueryContext(ctx, sqlText, fullArgs...)
	if err != nil {
		if opts.FuzzyFallback {
			return s.ftsFallback(ctx, tokens, opts)
		}
		return nil, fmt.Errorf("postgres: fts search: %w", err)
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
		out = append(out, storage.ScoredMemory{Memory: m, Score: h.rank / (1 + h.rank)})
	}
	return out, nil
}

// ftsFallback relaxes the query to an OR of terms when the strict AND-like
// query (to_tsquery with "|" is already an OR, so this simply retries with
// each term run individually and unions the hits) returns nothing.
func (s *MemoryStore) ftsFallback(ctx context.Context, tokens []string, opts storage.SearchOptions) ([]storage.ScoredMemory, error) {
	relaxed := opts
	relaxed.FuzzyFallback = false
	seen := make(map[types.MemoryID]bool)
	var out []storage.ScoredMemory
	for _, t := range tokens {
		hits, err := s.FTSSearch(ctx, []string{t}, relaxed)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if !seen[h.Memory.ID] {
				seen[h.Memory.ID] = true
				out = append(out, h)
			}
		}
	}
	return out, nil
}

// namespaceAndFilterClause builds a WHERE fragment and its positional args,
// starting placeholder numbering at startAt (the caller has already used
// $1 for its own parameter). It returns the next free placeholder number.
func namespaceAndFilterClause(opts storage.SearchOptions, startAt int) (string, []any, int) {
	where := []string{"1=1"}
	var args []any
	n := startAt

	if opts.Namespace.Kind != "" {
		where = append(where, fmt.Sprintf("namespace_kind = $%d AND namespace_project = $%d AND namespace_session_id = $%d", n, n+1, n+2))
		args = append(args, string(opts.Namespace.Kind), opts.Namespace.Project, opts.Namespace.SessionID)
		n += 3
	}
	if !opts.IncludeArchived {
		where = append(where, "is_archived = FALSE")
	}
	if len(opts.MemoryTypes) > 0 {
		placeholders := make([]string, len(opts.MemoryTypes))
		for i, t := range opts.MemoryTypes {
			placeholders[i] = fmt.Sprintf("$%d", n)
			args = append(args, string(t))
			n++
		}
		where = append(where, fmt.Sprintf("memory_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.MinImportance > 0 {
		where = append(where, fmt.Sprintf("importance >= $%d", n))
		args = append(args, opts.MinImportance)
		n++
	}
	if !opts.TimeWindowStart.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", n))
		args = append(args, opts.TimeWindowStart)
		n++
	}
	if !opts.TimeWindowEnd.IsZero() {
		where = append(where, fmt.Sprintf("created_at <= $%d", n))
		args = append(args, opts.TimeWindowEnd)
		n++
	}
	return strings.Join(where, " AND "), args, n
}

// VectorSearch ranks memories by pgvector cosine distance, accelerated by
// an ANN index over memory_embeddings once the deployment creates one; the
// `<=>` operator itself works unindexed too, just with a full scan.
func (s *MemoryStore) VectorSearch(ctx context.Context, vec []float32, opts storage.SearchOptions) ([]storage.ScoredMemory, error) {
	opts.Normalize()
	if len(vec) == 0 {
		return nil, nil
	}
	where, args, next := namespaceAndFilterClause(opts, 2)
	args = append([]any{pgvector.NewVector(vec)}, args...)
	limitPlace := next

	sqlText := fmt.Sprintf(`
		SELECT m.id, 1 - (e.embedding <=> $1) AS score
		FROM memory_embeddings e
		JOIN memories m ON m.id = e.memory_id
		WHERE %s
		ORDER BY e.embedding <=> $1
		LIMIT $%d`, rewriteNamespaceTable(where), limitPlace)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredMemory
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		m, err := s.Get(ctx, types.MemoryID(id))
		if err != nil {
			continue
		}
		out = append(out, storage.ScoredMemory{Memory: m, Score: score})
	}
	return out, rows.Err()
}

// rewriteNamespaceTable qualifies bare column references produced by
// namespaceAndFilterClause with the "m." alias VectorSearch's join uses.
func rewriteNamespaceTable(where string) string {
	replacer := strings.NewReplacer(
		"namespace_kind", "m.namespace_kind",
		"namespace_project", "m.namespace_project",
		"namespace_session_id", "m.namespace_session_id",
		"is_archived", "m.is_archived",
		"memory_type", "m.memory_type",
		"importance", "m.importance",
		"created_at", "m.created_at",
	)
	return replacer.Replace(where)
}

// FindConsolidationCandidates uses pgvector distance directly in SQL to
// find near-duplicate pairs within scope, avoiding the O(n^2) in-process
// scan the sqlite backend falls back to.
func (s *MemoryStore) FindConsolidationCandidates(ctx context.Context, scope types.Namespace, minSimilarity float64) ([]storage.ConsolidationCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.memory_id, b.memory_id, 1 - (a.embedding <=> b.embedding) AS sim
		FROM memory_embeddings a
		JOIN memory_embeddings b ON a.memory_id < b.memory_id
		JOIN memories ma ON ma.id = a.memory_id
		JOIN memories mb ON mb.id = b.memory_id
		WHERE ma.is_archived = FALSE AND mb.is_archived = FALSE
			AND ma.namespace_kind = $1 AND ma.namespace_project = $2 AND ma.namespace_session_id = $3
			AND mb.namespace_kind = $1 AND mb.namespace_project = $2 AND mb.namespace_session_id = $3
			AND (1 - (a.embedding <=> b.embedding)) >= $4`,
		string(scope.Kind), scope.Project, scope.SessionID, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("postgres: consolidation candidate scan: %w", err)
	}
	defer rows.Close()

	var candidates []storage.ConsolidationCandidate
	for rows.Next() {
		var aID, bID string
		var sim float64
		if err := rows.Scan(&aID, &bID, &sim); err != nil {
			return nil, err
		}
		a, err := s.Get(ctx, types.MemoryID(aID))
		if err != nil {
			continue
		}
		b, err := s.Get(ctx, types.MemoryID(bID))
		if err != nil {
			continue
		}
		if !overlaps(a.Keywords, b.Keywords) && !overlaps(a.Tags, b.Tags) {
			continue
		}
		candidates = append(candidates, storage.ConsolidationCandidate{A: a, B: b, Similarity: sim})
	}
	return candidates, rows.Err()
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
