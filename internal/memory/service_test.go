package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prmemory/internal/embedding"
)

func newService() (*Service, *embedding.MemoryStore, *InMemoryHistoryStore) {
	store := embedding.NewMemoryStore(embedding.NewHashEmbedder(384))
	history := NewInMemoryHistoryStore()
	return NewService(store, history), store, history
}

func TestGetUserContext_EmptyWhenNoMemory(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	got, err := svc.GetUserContext(ctx, "repo", "alice", "")
	require.NoError(t, err)
	require.Equal(t, "", got)

	got, err = svc.GetUserContext(ctx, "repo", "alice", "error handling")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestGetUserContext_RecentFormatsBullets(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	for i, c := range []string{"one", "two", "three", "four", "five", "six"} {
		_, err := svc.StorePreference(ctx, "repo", "alice", "style", c, map[string]any{"n": i})
		require.NoError(t, err)
	}
	_, err := svc.StorePreference(ctx, "repo", "bob", "style", "not alice", nil)
	require.NoError(t, err)

	got, err := svc.GetUserContext(ctx, "repo", "alice", "")
	require.NoError(t, err)
	require.Equal(t, "- style: six\n- style: five\n- style: four\n- style: three\n- style: two", got)
}

func TestGetUserContext_SemanticTopThree(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	prefs := map[string]string{
		"naming":   "prefers snake_case column names",
		"errors":   "wrap errors with context before returning",
		"tests":    "table driven tests",
		"logging":  "structured logging with fields",
		"comments": "short doc comments",
	}
	for typ, content := range prefs {
		_, err := svc.StorePreference(ctx, "repo", "alice", typ, content, nil)
		require.NoError(t, err)
	}

	got, err := svc.GetUserContext(ctx, "repo", "alice", "wrap errors with context")
	require.NoError(t, err)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "- errors: wrap errors with context before returning", lines[0])
}

func TestGetUserContext_Idempotent(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		_, err := svc.StorePreference(ctx, "repo", "alice", "note", c, nil)
		require.NoError(t, err)
	}

	for _, q := range []string{"", "b"} {
		first, err := svc.GetUserContext(ctx, "repo", "alice", q)
		require.NoError(t, err)
		second, err := svc.GetUserContext(ctx, "repo", "alice", q)
		require.NoError(t, err)
		require.Equal(t, first, second)
	}
}

func TestLearnFromFeedback(t *testing.T) {
	svc, store, _ := newService()
	svc.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600)) }
	ctx := context.Background()

	_, err := svc.LearnFromFeedback(ctx, "repo", "alice", "dismissed", map[string]any{
		"suggestion": "use a constant",
		"file":       "main.go",
	})
	require.NoError(t, err)

	recs, err := store.ListRecentMemory(ctx, embedding.Scope{RepositoryID: "repo", UserID: "alice"}, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "feedback_dismissed", recs[0].MemoryType)
	require.Equal(t, "2024-05-06T06:08:09Z", recs[0].Metadata["learned_at"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(recs[0].Content), &decoded))
	require.Equal(t, "use a constant", decoded["suggestion"])
}

func TestRecordAndGetPRHistory(t *testing.T) {
	svc, _, history := newService()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	history.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}
	ctx := context.Background()

	for pr := 1; pr <= 12; pr++ {
		require.NoError(t, svc.RecordReviewHistory(ctx, pr, "repo", "alice", "summary", pr%3))
	}
	require.NoError(t, svc.RecordReviewHistory(ctx, 99, "repo", "bob", "other", 0))

	recs, err := svc.GetPRHistory(ctx, "repo", "alice", 0)
	require.NoError(t, err)
	require.Len(t, recs, DefaultHistoryLimit)
	require.Equal(t, 12, recs[0].PRNumber)
	require.Equal(t, 3, recs[9].PRNumber)

	recs, err = svc.GetPRHistory(ctx, "repo", "bob", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, 99, recs[0].PRNumber)
}
