package embedding

import (
	"context"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/prmemory/internal/config"
)

// DefaultOpenAIModel supports dimension reduction, so it can fill 384-wide columns.
const DefaultOpenAIModel = openai.SmallEmbedding3

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Setting: "embedding.api_key", Msg: "required for provider openai"}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, &EmbeddingError{Provider: "openai", Err: err}
	}
	if len(resp.Data) != len(texts) {
		return nil, &EmbeddingError{Provider: "openai", Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))}
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}
