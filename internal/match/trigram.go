package match

import "strings"

// Trigram text similarity with postgres pg_trgm semantics: each word is
// padded with two leading and one trailing space before extracting
// three-character windows, and similarity is the Jaccard ratio of the
// two trigram sets.

func trigrams(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = true
		}
	}
	return set
}

// Similarity returns the trigram Jaccard similarity of two strings in [0,1].
func Similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// WordSimilarity returns the greatest similarity between a and any
// contiguous word window of b. A short merchant name buried inside a long
// description still scores high.
func WordSimilarity(a, b string) float64 {
	words := strings.Fields(strings.ToLower(b))
	if len(words) == 0 {
		return 0
	}
	aWords := len(strings.Fields(a))
	if aWords == 0 {
		return 0
	}

	best := 0.0
	// Windows near the length of a are the plausible matches; scanning a
	// couple of sizes either side covers tokenization differences.
	for size := max(1, aWords-1); size <= min(len(words), aWords+1); size++ {
		for start := 0; start+size <= len(words); start++ {
			window := strings.Join(words[start:start+size], " ")
			if s := Similarity(a, window); s > best {
				best = s
			}
		}
	}
	if s := Similarity(a, b); s > best {
		best = s
	}
	return best
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
