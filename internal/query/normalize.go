package query

import (
	"strings"
	"unicode"
)

// Normalize lowercases, strips punctuation, and collapses whitespace. It is
// the canonical form used for cache keys, trending counters, and miss
// deduplication, and is idempotent.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastSpace := true
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Tokenize splits a normalized query into its whitespace-separated tokens.
func Tokenize(normalized string) []string {
	return strings.Fields(normalized)
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"it": true, "this": true, "that": true, "are": true, "was": true,
	"be": true, "has": true, "had": true, "do": true, "does": true,
}

// Keywords returns the tokens of a normalized query with stop words and
// single-character tokens removed.
func Keywords(normalized string) []string {
	var out []string
	for _, tok := range Tokenize(normalized) {
		if len(tok) > 1 && !stopWords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

func IsStopWord(tok string) bool {
	return stopWords[tok]
}
