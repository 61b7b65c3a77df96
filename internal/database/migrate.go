package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Schema returns the DDL for the three tables, with vector columns sized to dimension.
func Schema(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS code_embeddings (
  id BIGSERIAL PRIMARY KEY,
  repository_id TEXT NOT NULL,
  file_path TEXT NOT NULL,
  chunk_content TEXT NOT NULL,
  embedding VECTOR(%d) NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, dimension),
		`CREATE INDEX IF NOT EXISTS code_embeddings_repository_idx ON code_embeddings (repository_id, file_path)`,
		`CREATE INDEX IF NOT EXISTS code_embeddings_embedding_idx ON code_embeddings USING hnsw (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_memory (
  id BIGSERIAL PRIMARY KEY,
  repository_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  memory_type TEXT NOT NULL,
  content TEXT NOT NULL,
  embedding VECTOR(%d) NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, dimension),
		`CREATE INDEX IF NOT EXISTS user_memory_scope_idx ON user_memory (repository_id, user_id, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS user_memory_embedding_idx ON user_memory USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS pr_reviews (
  id BIGSERIAL PRIMARY KEY,
  pr_number INTEGER NOT NULL,
  repository_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  review_content TEXT NOT NULL,
  comments_count INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE INDEX IF NOT EXISTS pr_reviews_scope_idx ON pr_reviews (repository_id, user_id, created_at DESC)`,
	}
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range Schema(dimension) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	log.Info().Int("dimension", dimension).Msg("Database schema is up to date")
	return nil
}

// Health reports whether the database answers a trivial query.
func Health(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
