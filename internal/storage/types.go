package storage

import (
	"errors"
	"time"

	"github.com/scrypster/memorycore/pkg/types"
)

// Error kinds. Each is a sentinel so callers can test with errors.Is
// regardless of the wrapping message.
var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvariant   = types.ErrInvariant
	ErrConflict    = errors.New("storage: conflict")
	ErrRetryable   = errors.New("storage: retryable")
	ErrIndexStale  = errors.New("storage: index stale")
	ErrConfig      = errors.New("storage: invalid configuration")
	ErrFatal       = errors.New("storage: fatal corruption")
	ErrInvalidInput = errors.New("storage: invalid input")
)

// PaginatedResult is a type-safe paginated result set.
type PaginatedResult[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
	HasMore  bool
}

// ListOptions provides pagination, sorting, and filtering for List.
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string // "created_at", "importance", or "decayed_importance"
	SortOrder string // "asc" or "desc"

	Namespace      *types.Namespace
	MemoryTypes    []types.MemoryType
	Tags           []string
	MinImportance  int
	IncludeArchived bool
	CreatedAfter   time.Time
	CreatedBefore  time.Time
}

// Normalize applies defaults and whitelists SortBy to prevent SQL injection
// via a dynamically built ORDER BY clause.
func (o *ListOptions) Normalize() {
	allowed := map[string]bool{
		"created_at":         true,
		"importance":         true,
		"decayed_importance": true,
	}
	if !allowed[o.SortBy] {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// Offset calculates the SQL OFFSET from Page and Limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SearchOptions configures FTSSearch / VectorSearch.
type SearchOptions struct {
	Namespace       types.Namespace
	MemoryTypes     []types.MemoryType
	Tags            []string
	MinImportance   int
	IncludeArchived bool
	TimeWindowStart time.Time
	TimeWindowEnd   time.Time
	Limit           int

	// FuzzyFallback enables an OR-based retry when the initial FTS query
	// returns zero results.
	FuzzyFallback bool
}

// Normalize applies defaults and bounds to SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
}

// GraphBounds prevents combinatorial explosion during graph expansion.
type GraphBounds struct {
	MaxHops  int
	MaxNodes int
	MaxEdges int
	Timeout  time.Duration
}

// Normalize applies defaults and caps, honoring retriever.max_graph_depth
// (1..3) from configuration at the call site.
func (g *GraphBounds) Normalize() {
	if g.MaxHops < 1 {
		g.MaxHops = 2
	}
	if g.MaxHops > 3 {
		g.MaxHops = 3
	}
	if g.MaxNodes < 1 {
		g.MaxNodes = 100
	}
	if g.MaxNodes > 1000 {
		g.MaxNodes = 1000
	}
	if g.MaxEdges < 1 {
		g.MaxEdges = 500
	}
	if g.MaxEdges > 5000 {
		g.MaxEdges = 5000
	}
	if g.Timeout == 0 {
		g.Timeout = 10 * time.Second
	}
	if g.Timeout > time.Minute {
		g.Timeout = time.Minute
	}
}

// GraphResult is the outcome of a bounded graph expansion.
type GraphResult struct {
	Nodes         []ScoredMemory
	Edges         []GraphEdge
	BoundsReached []string
}

// GraphEdge is a directed edge discovered during expansion.
type GraphEdge struct {
	From     types.MemoryID
	To       types.MemoryID
	LinkType types.LinkType
	Strength float64
	Depth    int
}

// Patch describes a partial update to a MemoryNote. Nil/zero-value fields
// are left unchanged; FieldsSet records which are explicitly set so a
// caller can clear a field to its zero value deliberately.
type Patch struct {
	Content         *string
	Summary         *string
	Keywords        []string
	Tags            []string
	Context         *string
	MemoryType      *types.MemoryType
	Importance      *int
	Confidence      *float64
	RelatedFiles    []string
	RelatedEntities []string
	ExpiresAt       *time.Time
	Links           []types.MemoryLink

	// FieldsSet records which optional slice fields were explicitly
	// supplied (and should replace the stored value, including with an
	// empty slice), since a nil slice is otherwise indistinguishable from
	// "not provided" in Go.
	FieldsSet map[string]bool
}

// AuditOp enumerates the append-only audit log's operation kinds.
type AuditOp string

const (
	AuditCreated       AuditOp = "created"
	AuditUpdated       AuditOp = "updated"
	AuditArchived      AuditOp = "archived"
	AuditSuperseded    AuditOp = "superseded"
	AuditMerged        AuditOp = "merged"
	AuditRecalibrated  AuditOp = "recalibrated"
	AuditDecayed       AuditOp = "decayed"
	AuditAccessBurst   AuditOp = "access_burst"
)

// AuditEvent is one append-only log entry.
type AuditEvent struct {
	Cursor    int64
	Timestamp time.Time
	Op        AuditOp
	MemoryID  *types.MemoryID
	Details   string
}
