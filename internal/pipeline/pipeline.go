// Package pipeline implements the write path: remember() enriches,
// embeds, proposes links, assembles, validates, and atomically persists a
// new MemoryNote. The pipeline is at-most-once from the caller's
// perspective — no partial state is ever observable — because every
// mutation is delegated to a single storage.MemoryStore.Create call that
// itself runs inside one transaction.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/namespace"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/textsearch"
	"github.com/scrypster/memorycore/pkg/types"
)

// Backend is the slice of the storage capability set the write pipeline
// needs: row durability plus the two search stages used for candidate
// recall ahead of link proposal.
type Backend interface {
	storage.MemoryStore
	storage.SearchProvider
}

// Config tunes the candidate recall and link-proposal stages.
type Config struct {
	// CandidateCap bounds the combined FTS+vector candidate set offered to
	// the link-proposal stage.
	CandidateCap int

	// MinLinkStrength is the floor a proposed link's strength must clear
	// to survive filtering.
	MinLinkStrength float64

	// MaxLinksPerMemory caps the number of outgoing links assembled onto
	// one new memory.
	MaxLinksPerMemory int
}

// normalize fills in defaults for any zero field.
func (c *Config) normalize() {
	if c.CandidateCap <= 0 {
		c.CandidateCap = 20
	}
	if c.MinLinkStrength <= 0 {
		c.MinLinkStrength = 0.5
	}
	if c.MaxLinksPerMemory <= 0 {
		c.MaxLinksPerMemory = 10
	}
}

// Pipeline is the write path's single entry point. It holds only capability
// handles, no ambient/global state: every operation takes the handles it
// needs as explicit parameters or constructor arguments.
type Pipeline struct {
	store    Backend
	enricher llm.Enricher
	embedder llm.Embedder // nil is valid: vector-less degraded mode
	cfg      Config
}

// New constructs a Pipeline. embedder may be nil (no embedding provider
// configured); every write still succeeds in that case, it just stores no
// vector.
func New(store Backend, enricher llm.Enricher, embedder llm.Embedder, cfg Config) *Pipeline {
	cfg.normalize()
	return &Pipeline{store: store, enricher: enricher, embedder: embedder, cfg: cfg}
}

// RememberParams carries remember()'s inputs. NamespaceOverride, when
// non-nil, bypasses namespace resolution entirely.
type RememberParams struct {
	RawContent        string
	Context           string
	NamespaceOverride *types.Namespace
	ImportanceOverride *int
	Resolved          namespace.Resolution // pre-resolved namespace, used when NamespaceOverride is nil
}

// Result is remember()'s return value: the new id plus whether the write
// degraded (no enrichment and/or no embedding), useful for callers that
// want to surface that to the user without treating it as failure.
type Result struct {
	ID                types.MemoryID
	EnrichmentDegraded bool
	EmbeddingDegraded  bool
}

// Remember runs the staged write path: resolve namespace, enrich, embed,
// recall link candidates, propose and filter links, assemble, validate,
// and persist in one transaction. It never fails because enrichment or
// embedding failed — only an empty RawContent, an invariant violation, or
// a storage-layer error abort the write.
func (p *Pipeline) Remember(ctx context.Context, params RememberParams) (Result, error) {
	if params.RawContent == "" {
		return Result{}, fmt.Errorf("%w: raw content must not be empty", storage.ErrInvalidInput)
	}

	// Resolve the namespace.
	ns := params.Resolved.Namespace
	if params.NamespaceOverride != nil {
		ns = *params.NamespaceOverride
	}

	// Enrich, degrading to heuristic defaults on failure. Enrich
	// itself never returns an error — PromptEnricher degrades internally —
	// so here we only detect and report the degraded flag.
	enrichment := p.enricher.Enrich(ctx, params.RawContent, params.Context)
	importance := enrichment.ImportanceSuggestion
	if params.ImportanceOverride != nil {
		importance = *params.ImportanceOverride
	}

	// Embed, degrading to a nil embedding on failure.
	var embedding []float32
	var embeddingModel string
	embeddingDegraded := false
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, params.RawContent)
		if err != nil {
			embeddingDegraded = true
		} else {
			embedding = vec
			embeddingModel = p.embedder.Model()
		}
	} else {
		embeddingDegraded = true
	}

	now := time.Now().UTC()

	// Assemble early: the id is needed before link proposal so links can
	// reference the new memory as their source.
	note, err := types.NewMemoryNote(types.NewMemoryNoteParams{
		Namespace:      ns,
		Content:        params.RawContent,
		Summary:        enrichment.Summary,
		Keywords:       enrichment.Keywords,
		Tags:           enrichment.Tags,
		Context:        params.Context,
		MemoryType:     enrichment.MemoryType,
		Importance:     importance,
		Confidence:     confidenceFor(enrichment),
		Embedding:      embedding,
		EmbeddingModel: embeddingModel,
		Now:            now,
	})
	if err != nil {
		return Result{}, err
	}

	// Candidate recall over the same namespace, capped.
	candidates, err := p.recallCandidates(ctx, ns, params.RawContent, embedding)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: candidate recall: %w", err)
	}

	// Propose links, then filter so every target exists (it does,
	// by construction, since candidates came from storage), strength
	// clears the floor, and the total count respects the per-memory cap.
	if len(candidates) > 0 {
		candidateNotes := make([]types.MemoryNote, 0, len(candidates))
		for _, c := range candidates {
			candidateNotes = append(candidateNotes, *c.Memory)
		}
		proposals := p.enricher.ProposeLinks(ctx, params.RawContent, candidateNotes)
		note.Links = filterProposals(note.ID, proposals, candidateIndex(candidates), p.cfg)
	}

	// Validate before touching storage.
	dim := 0
	if p.embedder != nil {
		dim = p.embedder.Dimension()
	}
	if err := note.Validate(dim); err != nil {
		return Result{}, err
	}

	// Create persists the memory, its links, its embedding row, and the
	// causing "Created" audit event inside one transaction; there is no
	// separate audit-append step here.
	if err := p.store.Create(ctx, note); err != nil {
		return Result{}, err
	}

	return Result{
		ID:                 note.ID,
		EnrichmentDegraded: enrichment.Degraded,
		EmbeddingDegraded:  embeddingDegraded,
	}, nil
}

// confidenceFor derives a starting confidence: a high confidence (0.8) in a
// model-backed enrichment, a conservative midpoint when it degraded.
func confidenceFor(e llm.EnrichmentResult) float64 {
	if e.Degraded {
		return 0.5
	}
	return 0.8
}

// recallCandidates unions FTS and vector search results over ns, deduping
// by id and capping at CandidateCap.
func (p *Pipeline) recallCandidates(ctx context.Context, ns types.Namespace, content string, embedding []float32) ([]storage.ScoredMemory, error) {
	opts := storage.SearchOptions{Namespace: ns, Limit: p.cfg.CandidateCap}
	opts.Normalize()

	seen := make(map[types.MemoryID]bool)
	var out []storage.ScoredMemory

	ftsHits, err := p.store.FTSSearch(ctx, textsearch.Tokenize(content), opts)
	if err != nil {
		return nil, err
	}
	for _, h := range ftsHits {
		if !seen[h.Memory.ID] {
			seen[h.Memory.ID] = true
			out = append(out, h)
		}
	}

	if len(embedding) > 0 {
		vecHits, err := p.store.VectorSearch(ctx, embedding, opts)
		if err != nil {
			return nil, err
		}
		for _, h := range vecHits {
			if !seen[h.Memory.ID] {
				seen[h.Memory.ID] = true
				out = append(out, h)
			}
		}
	}

	if len(out) > p.cfg.CandidateCap {
		out = out[:p.cfg.CandidateCap]
	}
	return out, nil
}

func candidateIndex(candidates []storage.ScoredMemory) map[types.MemoryID]bool {
	idx := make(map[types.MemoryID]bool, len(candidates))
	for _, c := range candidates {
		idx[c.Memory.ID] = true
	}
	return idx
}

// filterProposals keeps only proposals whose target is in validTargets and
// whose strength clears minStrength, dedupes by target+type, self-links
// excluded (NewMemoryLink rejects them), and caps the result at
// cfg.MaxLinksPerMemory, preferring the strongest proposals when the
// enricher over-proposes.
func filterProposals(source types.MemoryID, proposals []llm.LinkProposal, validTargets map[types.MemoryID]bool, cfg Config) []types.MemoryLink {
	type candidate struct {
		proposal llm.LinkProposal
	}
	var kept []candidate
	seen := make(map[string]bool)
	for _, p := range proposals {
		if !validTargets[p.Target] {
			continue
		}
		if p.Strength < cfg.MinLinkStrength {
			continue
		}
		key := string(p.Target) + "|" + string(p.LinkType)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, candidate{p})
	}

	// Strongest-first so truncation to MaxLinksPerMemory drops the weakest
	// proposals rather than an arbitrary suffix.
	for i := 1; i < len(kept); i++ {
		j := i
		for j > 0 && kept[j].proposal.Strength > kept[j-1].proposal.Strength {
			kept[j], kept[j-1] = kept[j-1], kept[j]
			j--
		}
	}
	if len(kept) > cfg.MaxLinksPerMemory {
		kept = kept[:cfg.MaxLinksPerMemory]
	}

	now := time.Now().UTC()
	links := make([]types.MemoryLink, 0, len(kept))
	for _, c := range kept {
		link, err := types.NewMemoryLink(source, c.proposal.Target, c.proposal.LinkType, c.proposal.Strength, c.proposal.Reason, now)
		if err != nil {
			continue
		}
		links = append(links, link)
	}
	return links
}
