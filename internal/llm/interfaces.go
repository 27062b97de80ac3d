package llm

import (
	"context"

	"github.com/scrypster/memorycore/pkg/types"
)

// TextGenerator is the interface for LLM text completion.
// All enrichment prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// Returns float32 slice; embeddings are stored as float32.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// EnrichmentResult is the structured metadata an Enricher derives from raw
// memory content.
type EnrichmentResult struct {
	Summary              string
	Keywords             []string
	Tags                 []string
	MemoryType           types.MemoryType
	ImportanceSuggestion int

	// Degraded is true when this result came from the heuristic fallback
	// path rather than a model response.
	Degraded bool
}

// LinkProposal is one candidate outgoing link an Enricher suggests between
// a newly written memory and an existing one.
type LinkProposal struct {
	Target   types.MemoryID
	LinkType types.LinkType
	Strength float64
	Reason   string
}

// ConsolidationAction tags the outcome ConsolidationDecision carries.
type ConsolidationAction string

const (
	ConsolidationMerge     ConsolidationAction = "merge"
	ConsolidationSupersede ConsolidationAction = "supersede"
	ConsolidationKeepBoth  ConsolidationAction = "keep_both"
)

// ConsolidationDecision is the outcome of comparing two similar memories.
// Exactly one of the fields relevant to Action is populated:
//   - Merge: MergedContent holds the combined text; the caller builds the
//     new memory and supersedes both originals.
//   - Supersede: Kept/Dropped name which of the two inputs survives.
//   - KeepBoth: only Reason is populated.
type ConsolidationDecision struct {
	Action       ConsolidationAction
	MergedContent string
	Kept         types.MemoryID
	Dropped      types.MemoryID
	Reason       string
}

// Embedder turns raw text into a fixed-dimension vector embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// Enricher derives structured metadata from memory content, proposes links
// to related memories, and adjudicates whether two similar memories should
// be merged, have one supersede the other, or be left alone. Every method
// degrades gracefully rather than returning an error the caller must abort
// on: a model failure yields a conservative default, never a write failure.
type Enricher interface {
	Enrich(ctx context.Context, content, context_ string) EnrichmentResult
	ProposeLinks(ctx context.Context, content string, candidates []types.MemoryNote) []LinkProposal
	Consolidate(ctx context.Context, a, b types.MemoryNote) ConsolidationDecision
}
