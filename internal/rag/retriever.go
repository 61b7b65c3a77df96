package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/embedding"
)

const (
	// DefaultMaxChunks bounds the context handed to one generation call.
	DefaultMaxChunks = 5

	relatedFilesQueried = 5
	relatedPerFile      = 10
	relatedCap          = 10
)

// Retriever chunks and indexes source files and assembles retrieval context.
type Retriever struct {
	store embedding.Store
}

func NewRetriever(store embedding.Store) *Retriever {
	return &Retriever{store: store}
}

// IndexFile chunks content and stores every non-blank chunk. The whole file is
// first written as one batch; if that fails, chunks are stored one at a time
// and individual failures are logged and skipped. It returns the number of
// stored chunks. Only a configuration error aborts.
func (r *Retriever) IndexFile(ctx context.Context, repositoryID, filePath, content string, chunkSize int) (int, error) {
	chunks := ChunkLines(content, chunkSize)
	scope := embedding.Scope{RepositoryID: repositoryID}

	inputs := make([]embedding.ChunkInput, 0, len(chunks))
	for idx, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		inputs = append(inputs, embedding.ChunkInput{
			Content: chunk,
			Metadata: map[string]any{
				"chunk_index":  idx,
				"total_chunks": len(chunks),
			},
		})
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	ids, err := r.store.StoreCodeChunks(ctx, scope, filePath, inputs)
	if err == nil {
		log.Debug().Str("file", filePath).Int("chunks", len(ids)).Msg("Indexed file")
		return len(ids), nil
	}
	if isConfigError(err) {
		return 0, err
	}
	log.Warn().Err(err).Str("file", filePath).Msg("Batch indexing failed, storing chunks individually")

	stored := 0
	for _, in := range inputs {
		if _, err := r.store.StoreCodeChunk(ctx, scope, filePath, in.Content, in.Metadata); err != nil {
			if isConfigError(err) {
				return stored, err
			}
			log.Warn().Err(err).
				Str("file", filePath).
				Interface("chunk_index", in.Metadata["chunk_index"]).
				Msg("Failed to index chunk, skipping")
			continue
		}
		stored++
	}
	log.Debug().Str("file", filePath).Int("chunks", stored).Int("total", len(inputs)).Msg("Indexed file")
	return stored, nil
}

// RetrieveContext formats the nearest code chunks as "From {path}:\n{chunk}\n"
// blocks, nearest first. No matches yields "".
func (r *Retriever) RetrieveContext(ctx context.Context, repositoryID, query string, maxChunks int) (string, error) {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	recs, err := r.store.QueryNearest(ctx, embedding.Scope{RepositoryID: repositoryID}, query, embedding.KindCodeChunk, maxChunks)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve context: %w", err)
	}

	var b strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&b, "From %s:\n%s\n", rec.FilePath, rec.Content)
	}
	return b.String(), nil
}

// GetRelatedFiles returns up to 10 distinct indexed paths other than the
// changed files, sampled from the first five changed files. The result is a
// coarse heuristic in first-seen order, not a ranking.
func (r *Retriever) GetRelatedFiles(ctx context.Context, repositoryID string, changedFiles []string) ([]string, error) {
	scope := embedding.Scope{RepositoryID: repositoryID}

	changed := make(map[string]struct{}, len(changedFiles))
	for _, f := range changedFiles {
		changed[f] = struct{}{}
	}

	queried := changedFiles
	if len(queried) > relatedFilesQueried {
		queried = queried[:relatedFilesQueried]
	}

	seen := make(map[string]struct{})
	related := make([]string, 0, relatedCap)
	for _, f := range queried {
		recs, err := r.store.ListOtherFiles(ctx, scope, f, relatedPerFile)
		if err != nil {
			return nil, fmt.Errorf("failed to list related files for %s: %w", f, err)
		}
		for _, rec := range recs {
			if _, isChanged := changed[rec.FilePath]; isChanged {
				continue
			}
			if _, dup := seen[rec.FilePath]; dup {
				continue
			}
			seen[rec.FilePath] = struct{}{}
			related = append(related, rec.FilePath)
			if len(related) == relatedCap {
				return related, nil
			}
		}
	}
	return related, nil
}

func isConfigError(err error) bool {
	var cfgErr *embedding.ConfigurationError
	return errors.As(err, &cfgErr)
}
