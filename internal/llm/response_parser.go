package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/memorycore/pkg/types"
)

// stripFences removes a leading/trailing ```json ... ``` or ``` ... ```
// fence, which models produce despite being told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type enrichResponse struct {
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Tags       []string `json:"tags"`
	MemoryType string   `json:"memory_type"`
	Importance int      `json:"importance"`
}

// parseEnrichResponse parses and bounds-checks a raw model response into an
// EnrichmentResult. Keywords/tags beyond the bound are truncated rather than
// rejected, since a model that slightly overshoots the limit still produced
// a usable result.
func parseEnrichResponse(raw string) (EnrichmentResult, error) {
	var r enrichResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return EnrichmentResult{}, fmt.Errorf("llm: malformed enrich response: %w", err)
	}
	if len(r.Keywords) > types.MaxKeywords {
		r.Keywords = r.Keywords[:types.MaxKeywords]
	}
	if len(r.Tags) > types.MaxTags {
		r.Tags = r.Tags[:types.MaxTags]
	}
	mt := types.NormalizeMemoryType(types.MemoryType(r.MemoryType))
	if mt == types.MemoryTypeUnknown {
		mt = types.MemoryTypeReference
	}
	importance := r.Importance
	if importance < 1 || importance > 10 {
		importance = 5
	}
	return EnrichmentResult{
		Summary:              r.Summary,
		Keywords:             r.Keywords,
		Tags:                 r.Tags,
		MemoryType:           mt,
		ImportanceSuggestion: importance,
	}, nil
}

type linkProposalResponse struct {
	Target   string  `json:"target"`
	LinkType string  `json:"link_type"`
	Strength float64 `json:"strength"`
	Reason   string  `json:"reason"`
}

// parseLinkProposals parses a raw model response into LinkProposals,
// dropping any entry whose target does not name one of the candidates
// offered, since a hallucinated target is worse than a missed link.
func parseLinkProposals(raw string, candidates []types.MemoryNote) ([]LinkProposal, error) {
	var resp []linkProposalResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, fmt.Errorf("llm: malformed propose_links response: %w", err)
	}
	known := make(map[types.MemoryID]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	out := make([]LinkProposal, 0, len(resp))
	for _, p := range resp {
		target := types.MemoryID(p.Target)
		if !known[target] {
			continue
		}
		if p.Strength < 0 {
			p.Strength = 0
		}
		if p.Strength > 1 {
			p.Strength = 1
		}
		lt := types.NormalizeLinkType(types.LinkType(p.LinkType))
		if lt == types.LinkTypeUnknown {
			lt = types.LinkTypeReferences
		}
		out = append(out, LinkProposal{
			Target:   target,
			LinkType: lt,
			Strength: p.Strength,
			Reason:   p.Reason,
		})
	}
	return out, nil
}

type consolidateResponse struct {
	Action        string `json:"action"`
	MergedContent string `json:"merged_content"`
	Kept          string `json:"kept"`
	Reason        string `json:"reason"`
}

// parseConsolidateResponse parses a raw model response into a
// ConsolidationDecision, validating that the fields required by the chosen
// action are actually present and falling back to KeepBoth when they are
// not, since an under-specified merge or supersede is unsafe to act on.
func parseConsolidateResponse(raw string, a, b types.MemoryNote) (ConsolidationDecision, error) {
	var r consolidateResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return ConsolidationDecision{}, fmt.Errorf("llm: malformed consolidate response: %w", err)
	}
	switch r.Action {
	case string(ConsolidationMerge):
		if strings.TrimSpace(r.MergedContent) == "" {
			return ConsolidationDecision{Action: ConsolidationKeepBoth, Reason: "merge requested without merged_content"}, nil
		}
		return ConsolidationDecision{Action: ConsolidationMerge, MergedContent: r.MergedContent, Reason: r.Reason}, nil
	case string(ConsolidationSupersede):
		kept := types.MemoryID(r.Kept)
		var dropped types.MemoryID
		switch kept {
		case a.ID:
			dropped = b.ID
		case b.ID:
			dropped = a.ID
		default:
			return ConsolidationDecision{Action: ConsolidationKeepBoth, Reason: "supersede requested with unknown kept id"}, nil
		}
		return ConsolidationDecision{Action: ConsolidationSupersede, Kept: kept, Dropped: dropped, Reason: r.Reason}, nil
	default:
		return ConsolidationDecision{Action: ConsolidationKeepBoth, Reason: r.Reason}, nil
	}
}
