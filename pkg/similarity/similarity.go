// Package similarity provides name normalization and edit-distance helpers
// used to reject near-duplicate institution names.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// maxEditDistance is the absolute typo budget between two names.
	maxEditDistance = 2
	// ratioThreshold caps the distance at a fraction of the longer name,
	// so short names do not collide over one or two differing characters.
	ratioThreshold = 0.2
)

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases a name, strips diacritics and punctuation and
// collapses runs of whitespace to single spaces.
func Normalize(name string) string {
	stripped, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		stripped = name
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// TooSimilar reports whether two already-normalized names are within the
// typo heuristic: edit distance at most 2 and at most 20% of the longer
// name's length.
func TooSimilar(a, b string) bool {
	d := Distance(a, b)
	if d > maxEditDistance {
		return false
	}

	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	if longer == 0 {
		return true
	}

	return float64(d) <= ratioThreshold*float64(longer)
}

// Distance calculates the Levenshtein edit distance between two strings:
// the minimum number of single-rune insertions, deletions or substitutions
// required to change one into the other.
func Distance(a, b string) int {
	s1 := []rune(a)
	s2 := []rune(b)

	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	cols := len(s2) + 1

	// Two rows instead of a full matrix keeps allocations small.
	prev := make([]int, cols)
	curr := make([]int, cols)

	for j := 0; j < cols; j++ {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i

		for j := 1; j < cols; j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}

			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}

		prev, curr = curr, prev
	}

	return prev[cols-1]
}

func min3(a, b, c int) int {
	if a <= b && a <= c {
		return a
	}
	if b <= c {
		return b
	}
	return c
}
