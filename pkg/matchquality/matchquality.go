// Package matchquality scores the lexical overlap of two strings on a
// 0-100 scale. The score is built from repeated longest-common-substring
// extraction with a per-extraction penalty, which makes it cheap enough
// to run over vector-search candidates without a full edit-distance pass.
package matchquality

import (
	"math"
	"strings"
)

// Penalty is subtracted from the score for every extraction beyond the
// first, and also sets the minimum useful substring length relative to
// the longer input (len * Penalty / 100). The value is empirical.
const Penalty = 2

// Similarity returns a score in [0, 100] for the lexical overlap of x
// and y. Identical strings score 100, strings with no common substring
// score 0. The function is symmetric in its arguments.
func Similarity(x, y string) int {
	a := strings.TrimSpace(x)
	b := strings.TrimSpace(y)
	if len(b) > len(a) {
		a, b = b, a
	}

	total := len(a)
	if total == 0 {
		return 0
	}

	threshold := float64(total) * Penalty / 100

	count := -1
	for {
		sub, ai, bi := longestCommonSubstring(a, b)
		if float64(len(strings.TrimSpace(sub))) <= threshold {
			break
		}
		a = a[:ai] + a[ai+len(sub):]
		b = b[:bi] + b[bi+len(sub):]
		count++
	}
	if count < 0 {
		count = 0
	}

	result := 100*float64(total-len(a))/float64(total) - float64(count*Penalty)
	if result < 0 {
		result = 0
	}
	if result > 100 {
		result = 100
	}
	return int(math.Round(result))
}

// longestCommonSubstring finds the longest contiguous substring shared
// by a and b and returns it together with its byte offsets in each
// string. Standard O(len(a)*len(b)) dynamic program with a rolling row.
func longestCommonSubstring(a, b string) (sub string, ai, bi int) {
	if len(a) == 0 || len(b) == 0 {
		return "", 0, 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	best, bestA := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
					bestA = i
					bi = j - curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}

	ai = bestA - best
	return a[ai : ai+best], ai, bi
}
