package embedding

import (
	"context"
	"fmt"

	"github.com/prmemory/internal/config"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch is all-or-nothing: on error no vectors are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CheckedEmbedder rejects vectors whose length differs from the configured dimension.
type CheckedEmbedder struct {
	inner     Embedder
	dimension int
}

func NewCheckedEmbedder(inner Embedder, dimension int) *CheckedEmbedder {
	return &CheckedEmbedder{inner: inner, dimension: dimension}
}

func (c *CheckedEmbedder) Dimension() int { return c.dimension }

func (c *CheckedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != c.dimension {
		return nil, dimensionMismatch(c.dimension, len(vec))
	}
	return vec, nil
}

func (c *CheckedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := c.inner.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, &EmbeddingError{Provider: "batch", Err: fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(texts))}
	}
	for _, v := range vecs {
		if len(v) != c.dimension {
			return nil, dimensionMismatch(c.dimension, len(v))
		}
	}
	return vecs, nil
}

// NewEmbedder builds the configured embedder, wrapped in a dimension check.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder
	var err error

	switch cfg.Provider {
	case "openai":
		inner, err = NewOpenAIEmbedder(cfg)
	case "ollama":
		inner, err = NewOllamaEmbedder(cfg)
	default:
		return nil, &ConfigurationError{Setting: "embedding.provider", Msg: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
	if err != nil {
		return nil, err
	}
	return NewCheckedEmbedder(inner, cfg.Dimension), nil
}
