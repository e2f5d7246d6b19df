// Package embed defines the embedding contract used by the engine and
// the batch importer, with HTTP adapters for Ollama and for
// OpenAI-compatible embedding endpoints.
package embed

import (
	"context"
	"errors"
	"math"
)

// ErrModelUnavailable indicates the embedding model could not be
// initialized or reached.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// probeText is embedded once to discover the model's dimension.
const probeText = "dimension probe"

// Embedder maps text to a normalized fixed-length vector. All vectors
// for one store must come from the same model configured at open time.
type Embedder interface {
	// ProbeDimension embeds a short probe string and returns the
	// vector length.
	ProbeDimension(ctx context.Context) (int, error)

	// Embed returns an L2-normalized vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Normalize scales v to unit L2 length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// probeDimension implements ProbeDimension on top of Embed.
func probeDimension(ctx context.Context, e Embedder) (int, error) {
	vec, err := e.Embed(ctx, probeText)
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
