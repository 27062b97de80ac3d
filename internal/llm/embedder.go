package llm

import (
	"context"
	"fmt"
	"time"
)

// GeneratorEmbedder is the Embedder backed by an EmbeddingGenerator. It
// enforces that every returned vector matches the configured dimension, so
// a provider that silently changes model or dimension is caught at the
// embedding call site rather than at storage time.
type GeneratorEmbedder struct {
	gen     EmbeddingGenerator
	dim     int
	timeout time.Duration
}

// DefaultEmbedTimeout bounds a single embedding call.
const DefaultEmbedTimeout = 10 * time.Second

// NewGeneratorEmbedder wraps gen as an Embedder declaring dimension dim.
// timeout <= 0 selects DefaultEmbedTimeout.
func NewGeneratorEmbedder(gen EmbeddingGenerator, dim int, timeout time.Duration) *GeneratorEmbedder {
	if timeout <= 0 {
		timeout = DefaultEmbedTimeout
	}
	return &GeneratorEmbedder{gen: gen, dim: dim, timeout: timeout}
}

// Embed generates the embedding for text and validates its length.
func (e *GeneratorEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.gen.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("llm: embedding model %s returned dimension %d, expected %d", e.gen.GetModel(), len(vec), e.dim)
	}
	return vec, nil
}

// Dimension returns the declared embedding dimension.
func (e *GeneratorEmbedder) Dimension() int {
	return e.dim
}

// Model returns the underlying generator's model name.
func (e *GeneratorEmbedder) Model() string {
	return e.gen.GetModel()
}

var _ Embedder = (*GeneratorEmbedder)(nil)
