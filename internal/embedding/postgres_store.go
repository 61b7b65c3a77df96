package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const insertCodeChunkSQL = `
INSERT INTO code_embeddings (repository_id, file_path, chunk_content, embedding, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING id::text`

// PostgresStore keeps records in code_embeddings and user_memory and orders
// nearest-neighbour queries with the pgvector cosine operator.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPostgresStore(pool *pgxpool.Pool, embedder Embedder) *PostgresStore {
	return &PostgresStore{pool: pool, embedder: embedder}
}

func (s *PostgresStore) StoreCodeChunk(ctx context.Context, scope Scope, filePath, chunk string, metadata map[string]any) (string, error) {
	vec, err := s.embedder.Embed(ctx, chunk)
	if err != nil {
		return "", err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return "", err
	}

	var id string
	err = s.pool.QueryRow(ctx, insertCodeChunkSQL,
		scope.RepositoryID, filePath, chunk, pgvector.NewVector(vec), meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to store code chunk: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) StoreCodeChunks(ctx context.Context, scope Scope, filePath string, chunks []ChunkInput) ([]string, error) {
	if len(chunks) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for i, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		batch.Queue(insertCodeChunkSQL, scope.RepositoryID, filePath, c.Content, pgvector.NewVector(vecs[i]), meta)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin chunk batch: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	ids := make([]string, 0, len(chunks))
	for range chunks {
		var id string
		if err := results.QueryRow().Scan(&id); err != nil {
			results.Close()
			return nil, fmt.Errorf("failed to store code chunk batch: %w", err)
		}
		ids = append(ids, id)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("failed to store code chunk batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit code chunk batch: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) StoreMemory(ctx context.Context, scope Scope, memoryType, content string, metadata map[string]any) (string, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return "", err
	}

	var id string
	err = s.pool.QueryRow(ctx, `
INSERT INTO user_memory (repository_id, user_id, memory_type, content, embedding, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id::text`,
		scope.RepositoryID, scope.UserID, memoryType, content, pgvector.NewVector(vec), meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) QueryNearest(ctx context.Context, scope Scope, query string, kind Kind, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}

	// Skip the embedding call entirely when there is nothing to rank.
	exists, err := s.scopeHasRecords(ctx, scope, kind)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []Record{}, nil
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(qvec)

	switch kind {
	case KindCodeChunk:
		rows, err := s.pool.Query(ctx, `
SELECT id::text, file_path, chunk_content, metadata, created_at, (embedding <=> $1) AS distance
FROM code_embeddings
WHERE repository_id = $2
ORDER BY embedding <=> $1, id
LIMIT $3`, vec, scope.RepositoryID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to query code chunks: %w", err)
		}
		return scanCodeRows(rows, scope, true)
	case KindUserMemory:
		rows, err := s.pool.Query(ctx, `
SELECT id::text, memory_type, content, metadata, created_at, updated_at, (embedding <=> $1) AS distance
FROM user_memory
WHERE repository_id = $2 AND user_id = $3
ORDER BY embedding <=> $1, id
LIMIT $4`, vec, scope.RepositoryID, scope.UserID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to query memory: %w", err)
		}
		return scanMemoryRows(rows, scope, true)
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

func (s *PostgresStore) ListOtherFiles(ctx context.Context, scope Scope, excludePath string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, file_path, chunk_content, metadata, created_at
FROM code_embeddings
WHERE repository_id = $1 AND file_path <> $2
ORDER BY id
LIMIT $3`, scope.RepositoryID, excludePath, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list code chunks: %w", err)
	}
	return scanCodeRows(rows, scope, false)
}

func (s *PostgresStore) ListRecentMemory(ctx context.Context, scope Scope, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, memory_type, content, metadata, created_at, updated_at
FROM user_memory
WHERE repository_id = $1 AND user_id = $2
ORDER BY updated_at DESC, id DESC
LIMIT $3`, scope.RepositoryID, scope.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", err)
	}
	return scanMemoryRows(rows, scope, false)
}

func (s *PostgresStore) scopeHasRecords(ctx context.Context, scope Scope, kind Kind) (bool, error) {
	var exists bool
	var err error
	switch kind {
	case KindCodeChunk:
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM code_embeddings WHERE repository_id = $1)`,
			scope.RepositoryID).Scan(&exists)
	case KindUserMemory:
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_memory WHERE repository_id = $1 AND user_id = $2)`,
			scope.RepositoryID, scope.UserID).Scan(&exists)
	default:
		return false, fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check scope: %w", err)
	}
	return exists, nil
}

func scanCodeRows(rows pgx.Rows, scope Scope, withDistance bool) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		var meta []byte
		dest := []any{&r.ID, &r.FilePath, &r.Content, &meta, &r.CreatedAt}
		if withDistance {
			dest = append(dest, &r.Distance)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan code chunk: %w", err)
		}
		r.Kind = KindCodeChunk
		r.Scope = Scope{RepositoryID: scope.RepositoryID}
		r.UpdatedAt = r.CreatedAt
		r.Metadata = decodeMetadata(meta)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanMemoryRows(rows pgx.Rows, scope Scope, withDistance bool) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		var meta []byte
		var updatedAt time.Time
		dest := []any{&r.ID, &r.MemoryType, &r.Content, &meta, &r.CreatedAt, &updatedAt}
		if withDistance {
			dest = append(dest, &r.Distance)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		r.Kind = KindUserMemory
		r.Scope = scope
		r.UpdatedAt = updatedAt
		r.Metadata = decodeMetadata(meta)
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	b, err := json.Marshal(cloneMetadata(m))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) map[string]any {
	m := map[string]any{}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &m)
	}
	return m
}
