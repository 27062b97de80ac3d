package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/memorycore/pkg/types"
)

// enrichPrompt asks the model to derive summary/keywords/tags/type/importance
// from raw memory content. The response must be JSON and nothing else.
func enrichPrompt(content, context string) string {
	var b strings.Builder
	b.WriteString("You analyze a note being saved to a long-lived memory store and extract structured metadata from it.\n\n")
	b.WriteString("Respond with ONLY a single JSON object, no markdown fences, no commentary before or after. The object must have exactly these fields:\n")
	b.WriteString(`{"summary": string, "keywords": string[], "tags": string[], "memory_type": string, "importance": integer}` + "\n\n")
	fmt.Fprintf(&b, "summary: one or two sentences capturing the essential point.\n")
	fmt.Fprintf(&b, "keywords: up to %d short search terms drawn from the content.\n", types.MaxKeywords)
	fmt.Fprintf(&b, "tags: up to %d broad category labels.\n", types.MaxTags)
	fmt.Fprintf(&b, "memory_type: exactly one of: %s.\n", strings.Join(validMemoryTypeStrings(), ", "))
	b.WriteString("importance: an integer from 1 (trivial) to 10 (critical) reflecting how much this matters to future work.\n\n")
	if context != "" {
		fmt.Fprintf(&b, "Surrounding context:\n%s\n\n", context)
	}
	fmt.Fprintf(&b, "Content to analyze:\n%s\n", content)
	return b.String()
}

// proposeLinksPrompt asks the model to pick candidates related to new
// content out of a bounded list, each with a type and a strength.
func proposeLinksPrompt(content string, candidates []types.MemoryNote) string {
	var b strings.Builder
	b.WriteString("You decide which existing memories relate to a new one being saved, so a link can be recorded between them.\n\n")
	b.WriteString("Respond with ONLY a JSON array, no markdown fences, no commentary. Each element must have exactly these fields:\n")
	b.WriteString(`{"target": string, "link_type": string, "strength": number, "reason": string}` + "\n\n")
	fmt.Fprintf(&b, "target: the id of one of the candidate memories below, copied verbatim.\n")
	fmt.Fprintf(&b, "link_type: exactly one of: %s.\n", strings.Join(validLinkTypeStrings(), ", "))
	b.WriteString("strength: a number from 0 to 1 reflecting confidence in the relationship.\n")
	b.WriteString("reason: a short phrase explaining the link.\n")
	b.WriteString("Omit any candidate that is not meaningfully related. If none are related, respond with an empty array: []\n\n")
	fmt.Fprintf(&b, "New content:\n%s\n\n", content)
	b.WriteString("Candidate memories:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s: %s\n", c.ID, truncate(c.Content, 280))
	}
	return b.String()
}

// consolidatePrompt asks the model to adjudicate two similar memories.
func consolidatePrompt(a, b types.MemoryNote) string {
	var s strings.Builder
	s.WriteString("Two memories in the store are similar enough that they may be redundant. Decide how to reconcile them.\n\n")
	s.WriteString("Respond with ONLY a single JSON object, no markdown fences, no commentary. It must have exactly these fields:\n")
	s.WriteString(`{"action": string, "merged_content": string, "kept": string, "reason": string}` + "\n\n")
	s.WriteString(`action: one of "merge", "supersede", "keep_both".` + "\n")
	s.WriteString("merged_content: required only when action is \"merge\": the combined text of both memories, preserving detail from each.\n")
	s.WriteString("kept: required only when action is \"supersede\": the id of the memory that should survive (the other is superseded by it).\n")
	s.WriteString("reason: a short phrase explaining the decision.\n\n")
	fmt.Fprintf(&s, "Memory A (id=%s):\n%s\n\n", a.ID, a.Content)
	fmt.Fprintf(&s, "Memory B (id=%s):\n%s\n", b.ID, b.Content)
	return s.String()
}

func validMemoryTypeStrings() []string {
	out := make([]string, 0, len(types.ValidMemoryTypes))
	for _, t := range types.ValidMemoryTypes {
		out = append(out, string(t))
	}
	return out
}

func validLinkTypeStrings() []string {
	out := make([]string, 0, len(types.ValidLinkTypes))
	for _, t := range types.ValidLinkTypes {
		out = append(out, string(t))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
