package portfolio

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics decomposes, drops combining marks and recomposes, so
// "Férguson" indexes under the same prefixes as "Ferguson".
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SearchTerms derives the prefix index stored on a portfolio document: every
// prefix of every whitespace-separated word of name and username,
// lower-cased and diacritic-folded, deduplicated and sorted.
func SearchTerms(name, username string) []string {
	seen := make(map[string]struct{})

	for _, src := range []string{name, username} {
		folded, _, err := transform.String(foldDiacritics, src)
		if err != nil {
			folded = src
		}
		for _, word := range strings.Fields(strings.ToLower(folded)) {
			rs := []rune(word)
			for i := 1; i <= len(rs); i++ {
				seen[string(rs[:i])] = struct{}{}
			}
		}
	}

	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
