package similarity

import (
	"strings"
	"unicode"
)

// Score rates how alike two titles are, from 0.0 (unrelated) to 1.0 (same after
// normalisation). A title that ends with the other one ("The Apothecary Diaries" vs
// "Apothecary Diaries") scores high when the shared part dominates.
func Score(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if s := suffixScore(a, b); s > 0 {
		return s
	}

	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	return 1.0 - float64(editDistance(ra, rb))/float64(longest)
}

// Best returns the index of the candidate most similar to query and its score.
// It returns -1 for an empty candidate list.
func Best(query string, candidates []string) (int, float64) {
	best, bestScore := -1, -1.0
	for i, c := range candidates {
		if s := Score(query, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

func suffixScore(a, b string) float64 {
	long, short := a, b
	if len(short) > len(long) {
		long, short = short, long
	}
	if !strings.HasSuffix(long, short) {
		return 0
	}
	cut := len(long) - len(short)
	if cut > 0 && long[cut-1] != ' ' {
		return 0
	}
	ratio := float64(len(short)) / float64(len(long))
	if ratio < 0.6 {
		return 0
	}
	return 0.9 + ratio*0.1
}

// normalize lowercases, keeps letters and digits, and turns punctuation that commonly
// separates words in release and catalogue titles into single spaces.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '.', r == '-', r == '_', r == ':', r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// editDistance is the Levenshtein distance computed with two rolling rows.
func editDistance(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
