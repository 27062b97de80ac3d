// Package textsearch holds the small query-tokenization helper shared by
// the write pipeline's candidate recall and the hybrid retriever's FTS
// stage, so both stages treat a caller's free text as keyword tokens the
// same way.
package textsearch

import "strings"

// stopWords are filtered out of tokenized queries: common enough that they
// add FTS noise without adding recall.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
}

// Tokenize lowercases s, splits on non-alphanumeric runes, and drops stop
// words and empty tokens. An empty or all-stop-word query tokenizes to an
// empty slice, never a panic or error (boundary: "empty keyword query in
// recall returns empty result, no error").
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
