package llm

import (
	"context"
	"strings"
	"time"

	"github.com/scrypster/memorycore/pkg/types"
)

// PromptEnricher is the Enricher backed by a TextGenerator and a set of
// JSON-only prompts. Every method degrades to a conservative default on a
// generation or parse failure rather than propagating the error, since a
// write must never fail just because enrichment did.
type PromptEnricher struct {
	gen     TextGenerator
	timeout time.Duration
	chunker Chunker
}

// DefaultEnrichTimeout bounds a single enrichment call.
const DefaultEnrichTimeout = 30 * time.Second

// NewPromptEnricher wraps gen as an Enricher. timeout <= 0 selects
// DefaultEnrichTimeout.
func NewPromptEnricher(gen TextGenerator, timeout time.Duration) *PromptEnricher {
	if timeout <= 0 {
		timeout = DefaultEnrichTimeout
	}
	return &PromptEnricher{
		gen:     gen,
		timeout: timeout,
		chunker: Chunker{MaxChunkSize: 3000, Overlap: 200},
	}
}

// Enrich derives structured metadata via the configured model, falling back
// to a heuristic result (type Reference, importance 5, empty
// keywords/tags/summary, Degraded set) if the model call or the response
// parse fails. Content longer than one chunk is reduced to its first and
// last chunk before being sent to the model, keeping the prompt bounded
// without losing the opening context and the closing conclusion.
func (e *PromptEnricher) Enrich(ctx context.Context, content, context_ string) EnrichmentResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.Complete(ctx, enrichPrompt(e.boundedContent(content), context_))
	if err != nil {
		return degradedEnrichment()
	}
	result, err := parseEnrichResponse(raw)
	if err != nil {
		return degradedEnrichment()
	}
	return result
}

// boundedContent returns content unchanged when it fits in a single chunk,
// otherwise the first and last chunk joined by an elision marker.
func (e *PromptEnricher) boundedContent(content string) string {
	chunks, err := e.chunker.Chunk(content)
	if err != nil || len(chunks) <= 1 {
		return content
	}
	return chunks[0] + "\n...[truncated]...\n" + chunks[len(chunks)-1]
}

func degradedEnrichment() EnrichmentResult {
	return EnrichmentResult{
		MemoryType:           types.MemoryTypeReference,
		ImportanceSuggestion: 5,
		Degraded:             true,
	}
}

// ProposeLinks asks the model to pick related memories out of candidates.
// On failure it returns nil: no proposed links, never a fabricated one.
func (e *PromptEnricher) ProposeLinks(ctx context.Context, content string, candidates []types.MemoryNote) []LinkProposal {
	if len(candidates) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.Complete(ctx, proposeLinksPrompt(content, candidates))
	if err != nil {
		return nil
	}
	proposals, err := parseLinkProposals(raw, candidates)
	if err != nil {
		return nil
	}
	return proposals
}

// Consolidate asks the model to adjudicate two similar memories. On failure
// it returns KeepBoth: doing nothing is always a safe fallback here.
func (e *PromptEnricher) Consolidate(ctx context.Context, a, b types.MemoryNote) ConsolidationDecision {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.Complete(ctx, consolidatePrompt(a, b))
	if err != nil {
		return ConsolidationDecision{Action: ConsolidationKeepBoth, Reason: "enrichment unavailable: " + strings.TrimSpace(err.Error())}
	}
	decision, err := parseConsolidateResponse(raw, a, b)
	if err != nil {
		return ConsolidationDecision{Action: ConsolidationKeepBoth, Reason: "malformed consolidation response"}
	}
	return decision
}

var _ Enricher = (*PromptEnricher)(nil)
