package matchquality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIdentity(t *testing.T) {
	for _, s := range []string{"Hello world", "a", "Save settings", "  padded  "} {
		assert.Equal(t, 100, Similarity(s, s), "identical strings must score 100: %q", s)
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	pairs := [][2]string{
		{"Save settings", "Save the settings now"},
		{"Hello world", "Hi world"},
		{"short", "a much longer sentence with more words"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]),
			"similarity must be symmetric for %q / %q", p[0], p[1])
	}
}

func TestSimilarityEmpty(t *testing.T) {
	assert.Equal(t, 0, Similarity("", ""))
	assert.Equal(t, 0, Similarity("", "non-empty"))
	assert.Equal(t, 0, Similarity("non-empty", ""))
	assert.Equal(t, 0, Similarity("   ", "whitespace only on one side"))
}

func TestSimilarityDisjoint(t *testing.T) {
	assert.Equal(t, 0, Similarity("abc", "xyz"))
}

func TestSimilarityOrdering(t *testing.T) {
	exact := Similarity("Save settings", "Save settings")
	near := Similarity("Save settings", "Save the settings now")
	far := Similarity("Save settings", "Completely different text")

	assert.Equal(t, 100, exact)
	assert.Greater(t, near, far, "near-match must outrank a distant one")
	assert.Less(t, near, exact, "near-match must rank below the exact match")
}

func TestSimilarityRange(t *testing.T) {
	pairs := [][2]string{
		{"one two three", "three two one"},
		{"aaaa", "aaab"},
		{"the quick brown fox", "the quick brown fox jumps"},
	}
	for _, p := range pairs {
		got := Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 100)
	}
}

func TestSimilarityTrivialChainsPenalized(t *testing.T) {
	// Long strings sharing only scattered single characters should not
	// accumulate score from one-character extractions: the threshold
	// (len * Penalty / 100) filters them out once the longer input is 50
	// bytes or more.
	a := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"
	b := "a!c!e!g!i!k!m!o!q!s!u!w!y!a!c!e!g!i!k!m!o!q!s!u!w!y!"
	got := Similarity(a, b)
	assert.Less(t, got, 30, "scattered single-char overlap must stay low, got %d", got)
}
