package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prmemory/internal/embedding"
	"github.com/prmemory/internal/logging"
	"github.com/prmemory/pkg/models"
)

// Indexer walks a repository and stores its source files as retrieval chunks.
type Indexer struct {
	hosts     HostResolver
	retriever ContextRetriever
	settings  Settings
}

func NewIndexer(hosts HostResolver, retriever ContextRetriever, settings Settings) *Indexer {
	return &Indexer{hosts: hosts, retriever: retriever, settings: settings}
}

// IndexRepository walks the default branch breadth first and indexes files
// with an allowed extension until IndexFileLimit files are indexed. Failures
// on a single file or subdirectory are logged and skipped.
func (ix *Indexer) IndexRepository(ctx context.Context, repository, repositoryID string, installationID int64) (*models.IndexResult, error) {
	logger := logging.ForRepository(repository)
	logger.Info().Msg("Indexing repository")

	host, err := ix.hosts(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("resolve code host: %w", err)
	}

	queue, err := host.ListContents(ctx, repository, "")
	if err != nil {
		return nil, fmt.Errorf("list repository root: %w", err)
	}

	indexed := 0
	for len(queue) > 0 && indexed < ix.settings.IndexFileLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := queue[0]
		queue = queue[1:]

		if entry.Type == models.ContentTypeDir {
			children, err := host.ListContents(ctx, repository, entry.Path)
			if err != nil {
				logger.Warn().Err(err).Str("path", entry.Path).Msg("Could not list directory")
				continue
			}
			queue = append(queue, children...)
			continue
		}

		if entry.Type != models.ContentTypeFile || !ix.allowed(entry.Path) {
			continue
		}

		content, err := host.GetFileContent(ctx, repository, entry.Path, "")
		if err != nil {
			logger.Warn().Err(err).Str("path", entry.Path).Msg("Could not index file")
			continue
		}

		if _, err := ix.retriever.IndexFile(ctx, repositoryID, entry.Path, content, ix.settings.ChunkSize); err != nil {
			var cfgErr *embedding.ConfigurationError
			if errors.As(err, &cfgErr) {
				return nil, err
			}
			logger.Warn().Err(err).Str("path", entry.Path).Msg("Could not index file")
			continue
		}

		indexed++
	}

	if indexed >= ix.settings.IndexFileLimit {
		logger.Info().Int("limit", ix.settings.IndexFileLimit).Msg("Reached indexing limit")
	}
	logger.Info().Int("files_indexed", indexed).Msg("Indexed repository")

	return &models.IndexResult{
		Status:       models.StatusSuccess,
		Repository:   repository,
		FilesIndexed: indexed,
	}, nil
}

func (ix *Indexer) allowed(path string) bool {
	for _, ext := range ix.settings.IndexExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
