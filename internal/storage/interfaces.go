// Package storage defines the capability-set interfaces for the durable
// backend: a small, composable set of interfaces rather than one large
// backend interface, following the Interface Segregation Principle. The
// rest of the system depends on these capability sets, never on a
// concrete backend.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/memorycore/pkg/types"
)

// MemoryStore owns row durability for MemoryNote records: create, read,
// partial update, archive, supersede, and access-tracking.
type MemoryStore interface {
	// Create atomically inserts a memory and its outgoing links, and
	// refreshes the FTS and vector indexes for it within a single
	// transaction. Fails with ErrNotFound if any link target is missing,
	// ErrInvariant if the record fails validation, ErrConflict on duplicate
	// id.
	Create(ctx context.Context, memory *types.MemoryNote) error

	// Get returns the full memory or ErrNotFound.
	Get(ctx context.Context, id types.MemoryID) (*types.MemoryNote, error)

	// Update applies a partial update of mutable fields and refreshes FTS.
	// It does not re-embed; core.Store.Update re-embeds when content
	// changed. Preserves access_count and links unless Patch specifies them.
	Update(ctx context.Context, id types.MemoryID, patch Patch) (*types.MemoryNote, error)

	// Archive sets is_archived; links are preserved.
	Archive(ctx context.Context, id types.MemoryID) error

	// Supersede sets old.superseded_by = newID and old.is_archived = true
	// atomically. Fails ErrInvariant if new does not exist or is older.
	Supersede(ctx context.Context, oldID, newID types.MemoryID) error

	// Unsupersede clears old.superseded_by without reversing archival;
	// Restore is a separate, explicit call.
	Unsupersede(ctx context.Context, id types.MemoryID) error

	// Restore clears is_archived. Idempotent: a second call is a no-op.
	Restore(ctx context.Context, id types.MemoryID) error

	// Access increments access_count and updates last_accessed_at. Must
	// not be visible to the full-text index.
	Access(ctx context.Context, id types.MemoryID) error

	// List returns a filtered, sorted, paginated listing.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.MemoryNote], error)

	// Reindex rebuilds the FTS row for one id; the embedding row is left
	// as it is. Defined
	// as delete-then-insert: calling it twice in a row is a no-op
	// difference, so it is safe to call opportunistically after an
	// IndexStale error or on connection open following an abnormal
	// termination.
	Reindex(ctx context.Context, id types.MemoryID) error

	// BeginTx starts a transaction; all multi-row mutations occur inside
	// a single transaction obtained this way.
	BeginTx(ctx context.Context) (Tx, error)

	// Close releases resources held by the store (connection pool, WAL
	// checkpoint, etc).
	Close() error
}

// Tx is a storage transaction handle.
type Tx interface {
	Commit() error
	Rollback() error
}

// SearchProvider provides full-text and vector search over memories.
type SearchProvider interface {
	// FTSSearch returns ranked candidates by keyword relevance, with a
	// normalized score in [0,1].
	FTSSearch(ctx context.Context, tokens []string, opts SearchOptions) ([]ScoredMemory, error)

	// VectorSearch returns the k nearest candidates by cosine distance,
	// with s_vec = 1 - cosine_distance.
	VectorSearch(ctx context.Context, vec []float32, opts SearchOptions) ([]ScoredMemory, error)

	// FindConsolidationCandidates returns pairs with cosine similarity
	// above minSimilarity and overlapping keywords/tags, within scope.
	FindConsolidationCandidates(ctx context.Context, scope types.Namespace, minSimilarity float64) ([]ConsolidationCandidate, error)
}

// GraphProvider provides bounded graph expansion over memory links.
type GraphProvider interface {
	// GraphExpand returns memories reachable from seeds via outgoing
	// links within bounds.MaxHops hops, excluding archived memories, with
	// s_graph(m) = max over seeds of (strength * 0.5^(depth-1)).
	GraphExpand(ctx context.Context, seeds []types.MemoryID, bounds GraphBounds) (*GraphResult, error)
}

// LinkStore manages MemoryLink edges directly (outside of Create/Update's
// embedded link handling), used by the evolution engine's link-decay job.
type LinkStore interface {
	// ListLinks returns every outgoing link from id.
	ListLinks(ctx context.Context, id types.MemoryID) ([]types.MemoryLink, error)

	// ListAllLinks returns every link in the backend, used by the link
	// decay job.
	ListAllLinks(ctx context.Context) ([]types.MemoryLink, error)

	// UpsertLink inserts or updates a link's mutable fields (strength,
	// last_traversed_at).
	UpsertLink(ctx context.Context, link types.MemoryLink) error

	// DeleteLink removes a link identified by (source, target, linkType).
	DeleteLink(ctx context.Context, source, target types.MemoryID, linkType types.LinkType) error

	// CountIncoming returns the number of links into id whose source
	// memory is not archived, used by the importance recalibration job's incoming-link
	// boost.
	CountIncoming(ctx context.Context, id types.MemoryID) (int, error)
}

// CooldownStore tracks keep-both cooldowns between memory pairs, so the
// consolidation job does not re-propose a pair the enricher just declined
// to merge on every run within the cooldown window.
type CooldownStore interface {
	// RecordCooldown notes that the pair (a, b), order-independent, was
	// decided as decision at decidedAt.
	RecordCooldown(ctx context.Context, a, b types.MemoryID, decision string, decidedAt time.Time) error

	// InCooldown reports whether (a, b) was decided within the last
	// windowDays as of now.
	InCooldown(ctx context.Context, a, b types.MemoryID, windowDays int, now time.Time) (bool, error)
}

// EmbeddingProvider manages vector embeddings with dimension tracking.
type EmbeddingProvider interface {
	StoreEmbedding(ctx context.Context, id types.MemoryID, embedding []float32, model string) error
	GetEmbedding(ctx context.Context, id types.MemoryID) ([]float32, string, error)
	DeleteEmbedding(ctx context.Context, id types.MemoryID) error
	GetDimension(ctx context.Context, model string) (int, error)
}

// AuditLog is the append-only operation log. Appends must occur in the
// same transaction as their causing mutation.
type AuditLog interface {
	Append(ctx context.Context, tx Tx, event AuditEvent) error
	Since(ctx context.Context, cursor int64, limit int) ([]AuditEvent, int64, error)
}

// ScoredMemory pairs a memory with a stage-local relevance score.
type ScoredMemory struct {
	Memory *types.MemoryNote
	Score  float64
}

// ConsolidationCandidate is a pair of memories eligible for consolidation.
type ConsolidationCandidate struct {
	A          *types.MemoryNote
	B          *types.MemoryNote
	Similarity float64
}
