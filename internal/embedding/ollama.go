package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/prmemory/internal/config"
)

// DefaultOllamaModel produces 384-dimensional vectors.
const DefaultOllamaModel = "all-minilm"

// OllamaEmbedder runs a local sentence-embedding model through Ollama.
type OllamaEmbedder struct {
	embedder  embeddings.Embedder
	dimension int
}

func NewOllamaEmbedder(cfg config.EmbeddingConfig) (*OllamaEmbedder, error) {
	serverURL := cfg.BaseURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}

	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}

	return &OllamaEmbedder{embedder: emb, dimension: cfg.Dimension}, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dimension }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Provider: "ollama", Err: err}
	}
	return vec, nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, &EmbeddingError{Provider: "ollama", Err: err}
	}
	return vecs, nil
}
