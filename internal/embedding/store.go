package embedding

import (
	"context"
	"time"
)

type Kind string

const (
	KindCodeChunk  Kind = "code_chunk"
	KindUserMemory Kind = "user_memory"
)

// Scope partitions every stored record and every query. Code chunks are
// scoped by repository only; memory records by repository and user.
type Scope struct {
	RepositoryID string
	UserID       string
}

// Record is one stored (text, vector, metadata) tuple.
type Record struct {
	ID         string
	Kind       Kind
	Scope      Scope
	FilePath   string // code chunks
	MemoryType string // user memory
	Content    string
	Metadata   map[string]any
	Distance   float64 // cosine distance to the query, nearest-neighbour results only
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChunkInput is one chunk for a batched write.
type ChunkInput struct {
	Content  string
	Metadata map[string]any
}

// Store persists embedded records and answers nearest-neighbour queries.
// Every write embeds its content first, so every stored record has a vector
// of the configured dimension. Each call is its own unit of work.
type Store interface {
	StoreCodeChunk(ctx context.Context, scope Scope, filePath, chunk string, metadata map[string]any) (string, error)
	// StoreCodeChunks embeds all chunks in one batch and writes them together; all or nothing.
	StoreCodeChunks(ctx context.Context, scope Scope, filePath string, chunks []ChunkInput) ([]string, error)
	StoreMemory(ctx context.Context, scope Scope, memoryType, content string, metadata map[string]any) (string, error)
	// QueryNearest returns up to limit records of kind within scope, nearest
	// first, ties in insertion order. An empty scope yields an empty slice.
	QueryNearest(ctx context.Context, scope Scope, query string, kind Kind, limit int) ([]Record, error)
	// ListOtherFiles returns up to limit code chunks in scope whose path is not excludePath.
	ListOtherFiles(ctx context.Context, scope Scope, excludePath string, limit int) ([]Record, error)
	// ListRecentMemory returns up to limit memory records, most recently updated first.
	ListRecentMemory(ctx context.Context, scope Scope, limit int) ([]Record, error)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
