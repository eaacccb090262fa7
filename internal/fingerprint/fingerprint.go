// Package fingerprint derives stable identity hashes and fuzzy-matching
// variants for tasks, so the same task can be recognized across Todoist
// and Things even when it was retyped with minor differences.
//
// All functions in this package are pure: identical input always produces
// identical output, and nothing here touches the store or the network.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashLength is the number of hex characters kept from the SHA-256 digest.
// Truncation keeps mapping keys compact; collisions are handled by the
// title-variation and fuzzy fallback matchers, not by hash uniqueness alone.
const HashLength = 16

// DefaultSimilarityThreshold is the minimum similarity score for two
// titles to be considered the same task during fuzzy matching.
const DefaultSimilarityThreshold = 0.85

// Fingerprint is the derived identity of a task.
type Fingerprint struct {
	// PrimaryHash is a short deterministic digest over the normalized
	// title, normalized notes, and raw due-date string.
	PrimaryHash string `json:"primary_hash"`

	// TitleVariations enumerates normalization forms of the title alone,
	// ordered from least to most aggressive: trimmed original, lowercased,
	// fully normalized, space-removed.
	TitleVariations []string `json:"title_variations"`

	// FuzzySearchable is the fully normalized title used for
	// edit-distance comparison.
	FuzzySearchable string `json:"fuzzy_searchable"`
}

// Normalize lowercases, trims, collapses internal whitespace to single
// spaces, and strips ASCII punctuation. Non-ASCII runes pass through
// unchanged so accented and non-Latin titles keep their identity.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true // leading whitespace is dropped
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation: stripped
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Compute derives the fingerprint for a task's title, notes, and due date.
// Empty strings are valid input; a hash is still produced.
func Compute(title, notes, due string) Fingerprint {
	trimmed := strings.TrimSpace(title)
	normalized := Normalize(title)

	return Fingerprint{
		PrimaryHash: HashContent(title, notes, due),
		TitleVariations: []string{
			trimmed,
			strings.ToLower(trimmed),
			normalized,
			strings.ReplaceAll(normalized, " ", ""),
		},
		FuzzySearchable: normalized,
	}
}

// HashContent computes the primary hash for the given content fields.
// The engine uses this directly to probe the mapping store with title
// variations: HashContent(variation, notes, due) for each variation.
func HashContent(title, notes, due string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(title)))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(notes)))
	h.Write([]byte{0})
	h.Write([]byte(due))
	return hex.EncodeToString(h.Sum(nil))[:HashLength]
}

// Similarity returns 1 minus the normalized Levenshtein distance between
// the normalized forms of a and b, in [0, 1]. Strings that are equal
// after normalization score 1.0; empty versus non-empty scores 0.0.
func Similarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)

	if na == nb {
		return 1.0
	}
	if len(na) == 0 || len(nb) == 0 {
		return 0.0
	}

	dist := levenshtein(na, nb)
	longer := len([]rune(na))
	if l := len([]rune(nb)); l > longer {
		longer = l
	}

	return 1.0 - float64(dist)/float64(longer)
}

// IsSimilarEnough reports whether a and b score at or above the threshold.
// Pass DefaultSimilarityThreshold unless the caller has a configured value.
func IsSimilarEnough(a, b string, threshold float64) bool {
	return Similarity(a, b) >= threshold
}

// levenshtein computes the edit distance between two strings using the
// classic two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
