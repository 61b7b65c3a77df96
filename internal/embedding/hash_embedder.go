package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder using feature hashing.
// It needs no model server, which makes it the embedder of choice for tests.
type HashEmbedder struct {
	dimension int
	// Fail, when set, is returned by every call.
	Fail error
}

// NewHashEmbedder treats a non-positive dimension as 1.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 1
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Dimension() int { return h.dimension }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if h.Fail != nil {
		return nil, &EmbeddingError{Provider: "hash", Err: h.Fail}
	}
	vec := make([]float32, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.dimension)]++
	}
	return vec, nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
