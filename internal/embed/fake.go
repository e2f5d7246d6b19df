package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// Fake is a deterministic, model-free Embedder. It hashes lowercased
// tokens into buckets of a fixed-dimension bag-of-words vector and
// normalizes the result, so texts sharing tokens land near each other.
// It satisfies the Embedder contract for unit tests and offline smoke
// runs; it is not a substitute for a real model.
type Fake struct {
	Dim int

	// Fail, when set, makes every call return ErrModelUnavailable.
	Fail bool
}

// NewFake creates a fake embedder with the given dimension.
func NewFake(dim int) *Fake {
	return &Fake{Dim: dim}
}

// ProbeDimension returns the configured dimension.
func (f *Fake) ProbeDimension(_ context.Context) (int, error) {
	if f.Fail {
		return 0, ErrModelUnavailable
	}
	return f.Dim, nil
}

// Embed hashes tokens into buckets and normalizes.
func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	if f.Fail {
		return nil, ErrModelUnavailable
	}

	vec := make([]float32, f.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%f.Dim]++
	}
	return Normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Compile-time interface check
var _ Embedder = (*Fake)(nil)
