package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRecord is one completed review run. Records are append-only.
type HistoryRecord struct {
	ID            int64     `json:"id"`
	PRNumber      int       `json:"pr_number"`
	RepositoryID  string    `json:"repository_id"`
	UserID        string    `json:"user_id"`
	ReviewContent string    `json:"review_content"`
	CommentsCount int       `json:"comments_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type HistoryStore interface {
	Append(ctx context.Context, rec *HistoryRecord) error
	// ListRecent returns the user's records in a repository, newest first.
	ListRecent(ctx context.Context, repositoryID, userID string, limit int) ([]HistoryRecord, error)
}

// InMemoryHistoryStore is a threadsafe in-memory HistoryStore for tests.
type InMemoryHistoryStore struct {
	mu      sync.RWMutex
	records []HistoryRecord
	nextID  int64
	now     func() time.Time
}

func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{now: time.Now}
}

func (s *InMemoryHistoryStore) Append(ctx context.Context, rec *HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = s.now()
	s.records = append(s.records, *rec)
	return nil
}

func (s *InMemoryHistoryStore) ListRecent(ctx context.Context, repositoryID, userID string, limit int) ([]HistoryRecord, error) {
	s.mu.RLock()
	out := make([]HistoryRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.RepositoryID == repositoryID && r.UserID == userID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every record in insertion order.
func (s *InMemoryHistoryStore) All() []HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryRecord(nil), s.records...)
}

// PostgresHistoryStore keeps review history in pr_reviews.
type PostgresHistoryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresHistoryStore(pool *pgxpool.Pool) *PostgresHistoryStore {
	return &PostgresHistoryStore{pool: pool}
}

func (s *PostgresHistoryStore) Append(ctx context.Context, rec *HistoryRecord) error {
	err := s.pool.QueryRow(ctx, `
INSERT INTO pr_reviews (pr_number, repository_id, user_id, review_content, comments_count)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`,
		rec.PRNumber, rec.RepositoryID, rec.UserID, rec.ReviewContent, rec.CommentsCount,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record review history: %w", err)
	}
	return nil
}

func (s *PostgresHistoryStore) ListRecent(ctx context.Context, repositoryID, userID string, limit int) ([]HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, pr_number, repository_id, user_id, review_content, comments_count, created_at
FROM pr_reviews
WHERE repository_id = $1 AND user_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3`, repositoryID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list review history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryRecord, 0)
	for rows.Next() {
		var r HistoryRecord
		if err := rows.Scan(&r.ID, &r.PRNumber, &r.RepositoryID, &r.UserID, &r.ReviewContent, &r.CommentsCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
