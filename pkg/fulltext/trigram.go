// Package fulltext provides trigram-backed BM25 search over string fields.
package fulltext

import (
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// trigramsOf splits a normalized token stream into overlapping 3-character
// substrings, padding each token's edges with a boundary marker so prefix
// and suffix trigrams are distinguishable from interior ones.
func trigramsOf(text string) []string {
	tokens := tokenize(text)
	var out []string
	for _, tok := range tokens {
		padded := "\x02" + tok + "\x03"
		r := []rune(padded)
		if len(r) < 3 {
			out = append(out, string(r))
			continue
		}
		for i := 0; i+3 <= len(r); i++ {
			out = append(out, string(r[i:i+3]))
		}
	}
	return out
}

// trigramKey hashes a trigram into the fixed-width key used by the inverted
// postings table, avoiding a live string key per posting list entry.
func trigramKey(tri string) uint64 {
	return xxhash.Sum64String(tri)
}

// tokenize splits text into lowercase word tokens, stripping punctuation and
// a minimal stop-word list. Tokens shorter than 2 runes are dropped since
// they carry almost no discriminative trigram signal.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || stopWords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "this": true, "but": true, "they": true,
	"we": true, "you": true, "your": true, "my": true, "their": true,
	"been": true, "do": true, "does": true, "did": true,
}

// candidatesByTrigram returns every doc id whose field shares at least one
// trigram with query, used to prune the BM25 scoring pass to plausible
// matches before the exact term-frequency walk.
func (idx *Index) candidatesByTrigram(query string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tri := range trigramsOf(query) {
		key := trigramKey(tri)
		for id := range idx.postings[key] {
			out[id] = struct{}{}
		}
	}
	return out
}
