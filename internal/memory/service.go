package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/embedding"
)

const (
	semanticContextLimit = 3
	recentContextLimit   = 5
	// DefaultHistoryLimit is the page size of GetPRHistory.
	DefaultHistoryLimit = 10
)

// Service manages per-user, per-repository preference memory and review history.
type Service struct {
	store   embedding.Store
	history HistoryStore
	now     func() time.Time
}

func NewService(store embedding.Store, history HistoryStore) *Service {
	return &Service{store: store, history: history, now: time.Now}
}

// StorePreference embeds and persists one preference or pattern.
func (s *Service) StorePreference(ctx context.Context, repositoryID, userID, preferenceType, content string, metadata map[string]any) (string, error) {
	id, err := s.store.StoreMemory(ctx, scope(repositoryID, userID), preferenceType, content, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to store preference: %w", err)
	}
	log.Info().
		Str("repository_id", repositoryID).
		Str("user_id", userID).
		Str("type", preferenceType).
		Msg("Stored user preference")
	return id, nil
}

// GetUserContext returns the user's memory as "- {type}: {content}" lines: the
// three nearest to query when one is given, else the five most recently updated.
func (s *Service) GetUserContext(ctx context.Context, repositoryID, userID, query string) (string, error) {
	sc := scope(repositoryID, userID)

	var recs []embedding.Record
	var err error
	if strings.TrimSpace(query) != "" {
		recs, err = s.store.QueryNearest(ctx, sc, query, embedding.KindUserMemory, semanticContextLimit)
	} else {
		recs, err = s.store.ListRecentMemory(ctx, sc, recentContextLimit)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user context: %w", err)
	}

	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("- %s: %s", r.MemoryType, r.Content))
	}
	return strings.Join(lines, "\n"), nil
}

// RecordReviewHistory appends one completed review.
func (s *Service) RecordReviewHistory(ctx context.Context, prNumber int, repositoryID, userID, content string, commentsCount int) error {
	return s.history.Append(ctx, &HistoryRecord{
		PRNumber:      prNumber,
		RepositoryID:  repositoryID,
		UserID:        userID,
		ReviewContent: content,
		CommentsCount: commentsCount,
	})
}

// LearnFromFeedback stores an interaction (a dismissed suggestion, an approved
// pattern, a clarifying comment) as a preference of type feedback_{type}.
func (s *Service) LearnFromFeedback(ctx context.Context, repositoryID, userID, feedbackType string, feedback map[string]any) (string, error) {
	content, err := json.Marshal(feedback)
	if err != nil {
		return "", fmt.Errorf("failed to encode feedback: %w", err)
	}
	return s.StorePreference(ctx, repositoryID, userID, "feedback_"+feedbackType, string(content), map[string]any{
		"learned_at": s.now().UTC().Format(time.RFC3339),
	})
}

// GetPRHistory returns the user's most recent reviews in a repository.
func (s *Service) GetPRHistory(ctx context.Context, repositoryID, userID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.history.ListRecent(ctx, repositoryID, userID, limit)
}

func scope(repositoryID, userID string) embedding.Scope {
	return embedding.Scope{RepositoryID: repositoryID, UserID: userID}
}
