// Package core is the composition root: it wires the storage backend, the
// write pipeline, the hybrid retriever, the evolution scheduler, the audit
// log, and the access-control policy behind the single Store facade
// (Remember/Recall/Get/Update/Delete/Consolidate/Graph/Context/AuditSince).
// Store is the one root object an embedding program constructs and passes
// into every call site; there is no package-level singleton anywhere in
// this tree.
package core

import (
	"context"
	"fmt"

	"github.com/scrypster/memorycore/internal/access"
	"github.com/scrypster/memorycore/internal/audit"
	"github.com/scrypster/memorycore/internal/evolution"
	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/namespace"
	"github.com/scrypster/memorycore/internal/pipeline"
	"github.com/scrypster/memorycore/internal/retriever"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// Backend is the full storage capability set Store needs: every interface
// pipeline, retriever, and evolution individually depend on, satisfied in
// this tree by a single *sqlite.MemoryStore (or, behind the postgres build
// tag, *postgres.MemoryStore).
type Backend interface {
	storage.MemoryStore
	storage.SearchProvider
	storage.GraphProvider
	storage.LinkStore
	storage.CooldownStore
	storage.EmbeddingProvider
	storage.AuditLog
}

// Config bundles the sub-configs of every wired component. A composition
// root typically builds this from internal/config.Config's sub-structs.
type Config struct {
	Pipeline  pipeline.Config
	Retriever retriever.Config
	Evolution evolution.Config
	Access    access.DefaultPolicy
}

// Store is the single entry point embedding programs (the MCP front end,
// the web dashboard, a CLI, a test) hold and pass around. It owns no
// ambient state beyond the handles given to New.
type Store struct {
	backend   Backend
	pipeline  *pipeline.Pipeline
	retriever *retriever.Retriever
	scheduler *evolution.Scheduler
	audit     *audit.Logger
	resolver  *namespace.Resolver
	policy    access.Policy
	embedder  llm.Embedder // nil in keyword-only mode
}

// New constructs a Store. embedder may be nil when no embedding provider is
// configured; every component already treats a nil Embedder as permanent
// keyword-only mode rather than an error.
func New(backend Backend, enricher llm.Enricher, embedder llm.Embedder, cfg Config) *Store {
	auditLogger := audit.New(backend)
	policy := access.Policy(&cfg.Access)

	return &Store{
		backend:   backend,
		pipeline:  pipeline.New(backend, enricher, embedder, cfg.Pipeline),
		retriever: retriever.New(backend, embedder, policy, cfg.Retriever),
		scheduler: evolution.New(backend, enricher, auditLogger, cfg.Evolution),
		audit:     auditLogger,
		resolver:  namespace.NewResolver(),
		policy:    policy,
		embedder:  embedder,
	}
}

// StartEvolution launches the background consolidation/recalibration/
// decay/archival jobs on their configured intervals. It returns
// immediately; call ShutdownEvolution (or cancel ctx) to stop them.
func (s *Store) StartEvolution(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// ShutdownEvolution cancels the background jobs and waits for any in-flight
// pass to return.
func (s *Store) ShutdownEvolution(ctx context.Context) error {
	return s.scheduler.Shutdown(ctx)
}

// Close releases the backend's resources (connection pool, WAL checkpoint).
// Call ShutdownEvolution (if started) before Close.
func (s *Store) Close() error {
	return s.backend.Close()
}

// RememberParams carries Remember's caller-facing inputs. WorkingDir is
// where namespace resolution starts when Namespace is nil; an empty
// WorkingDir resolves from the process's current directory.
type RememberParams struct {
	Content            string
	Context            string
	WorkingDir         string
	Namespace          *types.Namespace
	ImportanceOverride *int
}

// Remember resolves a namespace (unless overridden), then runs the write
// pipeline and returns the new memory's id.
func (s *Store) Remember(ctx context.Context, p RememberParams) (types.MemoryID, error) {
	var resolved namespace.Resolution
	if p.Namespace == nil {
		r, err := s.resolver.Resolve(p.WorkingDir)
		if err != nil {
			return "", fmt.Errorf("core: resolve namespace: %w", err)
		}
		resolved = r
	}

	result, err := s.pipeline.Remember(ctx, pipeline.RememberParams{
		RawContent:         p.Content,
		Context:            p.Context,
		NamespaceOverride:  p.Namespace,
		ImportanceOverride: p.ImportanceOverride,
		Resolved:           resolved,
	})
	if err != nil {
		return "", err
	}
	return result.ID, nil
}

// Recall runs the hybrid retrieval pipeline scoped to filters.Namespace,
// widening to parent scopes as needed.
func (s *Store) Recall(ctx context.Context, query string, filters retriever.Filters, maxResults int, caller access.Caller) ([]retriever.ScoredResult, error) {
	return s.retriever.Recall(ctx, query, filters, maxResults, caller)
}

// Get returns a memory by id regardless of its archived/superseded state:
// callers that already hold an id can always dereference it.
func (s *Store) Get(ctx context.Context, id types.MemoryID) (*types.MemoryNote, error) {
	return s.backend.Get(ctx, id)
}

// Update applies a partial update to a memory's mutable fields, re-embedding
// when the patch changed the content and an embedder is configured. The
// backend appends the causing "Updated" audit event in the same transaction
// as the row mutation; Store does not append a second one.
func (s *Store) Update(ctx context.Context, id types.MemoryID, patch storage.Patch) (*types.MemoryNote, error) {
	updated, err := s.backend.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil && s.embedder != nil {
		// An embedding failure degrades the row to keyword-only rather than
		// failing the already-committed update.
		if vec, embErr := s.embedder.Embed(ctx, *patch.Content); embErr == nil {
			if storeErr := s.backend.StoreEmbedding(ctx, id, vec, s.embedder.Model()); storeErr == nil {
				updated.Embedding = vec
				updated.EmbeddingModel = s.embedder.Model()
			}
		}
	}
	return updated, nil
}

// Delete archives a memory; nothing is ever physically removed. Calling
// Delete twice succeeds and the memory stays archived; the second call
// still refreshes updated_at and appends another "Archived" event. The
// backend appends the causing "Archived" audit event atomically with the
// row mutation.
func (s *Store) Delete(ctx context.Context, id types.MemoryID) error {
	return s.backend.Archive(ctx, id)
}

// Consolidate runs the consolidation job on demand, synchronously, with the
// same transactional guarantees as its scheduled invocation. scope nil
// consolidates every namespace currently holding memories.
func (s *Store) Consolidate(ctx context.Context, scope *types.Namespace) (evolution.ConsolidationReport, error) {
	return s.scheduler.RunConsolidation(ctx, scope)
}

// Subgraph is the value-typed slice of the memory graph returned by Graph.
// Cyclic references live only in storage; nodes refer to each other by id,
// never through an in-memory owning structure.
type Subgraph struct {
	Root  types.MemoryID
	Nodes []types.MemoryNote
	Edges []storage.GraphEdge
}

// Graph returns the subgraph reachable from id within depth hops.
func (s *Store) Graph(ctx context.Context, id types.MemoryID, depth int) (Subgraph, error) {
	root, err := s.backend.Get(ctx, id)
	if err != nil {
		return Subgraph{}, err
	}

	bounds := storage.GraphBounds{MaxHops: depth}
	bounds.Normalize()
	result, err := s.backend.GraphExpand(ctx, []types.MemoryID{id}, bounds)
	if err != nil {
		return Subgraph{}, err
	}

	nodes := make([]types.MemoryNote, 0, len(result.Nodes)+1)
	seen := map[types.MemoryID]bool{id: true}
	nodes = append(nodes, *root)
	for _, n := range result.Nodes {
		if seen[n.Memory.ID] {
			continue
		}
		seen[n.Memory.ID] = true
		nodes = append(nodes, *n.Memory)
	}

	return Subgraph{Root: id, Nodes: nodes, Edges: result.Edges}, nil
}

// ContextSummary is Context's return value: a namespace's most recent
// memories, its most important (by stored importance) memories, and a
// one-hop graph overview seeded from the important set.
type ContextSummary struct {
	Namespace     types.Namespace
	Recent        []types.MemoryNote
	Important     []types.MemoryNote
	GraphOverview storage.GraphResult
}

// Context assembles the namespace overview an agent typically wants when it
// first attaches to a project: recent activity, the highest-importance
// memories, and what they connect to.
func (s *Store) Context(ctx context.Context, ns types.Namespace) (ContextSummary, error) {
	const overviewLimit = 10

	opts := storage.ListOptions{Namespace: &ns, Limit: overviewLimit, SortBy: "created_at", SortOrder: "desc"}
	opts.Normalize()
	recent, err := s.backend.List(ctx, opts)
	if err != nil {
		return ContextSummary{}, fmt.Errorf("core: context recent: %w", err)
	}

	impOpts := storage.ListOptions{Namespace: &ns, Limit: overviewLimit, SortBy: "decayed_importance", SortOrder: "desc"}
	impOpts.Normalize()
	important, err := s.backend.List(ctx, impOpts)
	if err != nil {
		return ContextSummary{}, fmt.Errorf("core: context important: %w", err)
	}

	seeds := make([]types.MemoryID, 0, len(important.Items))
	for _, m := range important.Items {
		seeds = append(seeds, m.ID)
	}

	var overview storage.GraphResult
	if len(seeds) > 0 {
		bounds := storage.GraphBounds{MaxHops: 1}
		bounds.Normalize()
		result, graphErr := s.backend.GraphExpand(ctx, seeds, bounds)
		if graphErr == nil {
			overview = *result
		}
	}

	return ContextSummary{
		Namespace:     ns,
		Recent:        recent.Items,
		Important:     important.Items,
		GraphOverview: overview,
	}, nil
}

// AuditSince returns audit log entries after cursor, plus the cursor to
// resume from on the next call.
func (s *Store) AuditSince(ctx context.Context, cursor int64, limit int) ([]storage.AuditEvent, int64, error) {
	return s.backend.Since(ctx, cursor, limit)
}

// ResolveNamespace exposes namespace resolution directly, for callers (a
// CLI, an MCP front end) that need to display or override the resolved
// namespace before issuing a Remember/Recall call.
func (s *Store) ResolveNamespace(workingDir string) (namespace.Resolution, error) {
	return s.resolver.Resolve(workingDir)
}
