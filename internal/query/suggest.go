package query

import "strings"

// suggestionCutoff is the minimum similarity for a "did you mean" hint.
const suggestionCutoff = 0.6

// closestMatch returns the candidate most similar to input, ignoring case,
// or "" when nothing reaches the cutoff.
func closestMatch(input string, candidates []string) string {
	in := strings.ToLower(input)
	best, bestScore := "", 0.0
	for _, c := range candidates {
		score := similarity(in, strings.ToLower(c))
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < suggestionCutoff {
		return ""
	}
	return best
}

// similarity is 1 minus the edit distance normalised by the longer length.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
