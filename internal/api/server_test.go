package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prmemory/internal/jobqueue"
	ghprovider "github.com/prmemory/internal/providers/github"
	"github.com/prmemory/pkg/models"
)

const (
	testToken  = "s3cret"
	testSecret = "hook-secret"
)

type fakeQueue struct {
	reviews []models.PRData
	indexes []jobqueue.IndexArgs
	status  map[string]*jobqueue.TaskStatus
	err     error
}

func (q *fakeQueue) EnqueueReview(ctx context.Context, pr models.PRData) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.reviews = append(q.reviews, pr)
	return "101", nil
}

func (q *fakeQueue) EnqueueIndex(ctx context.Context, args jobqueue.IndexArgs) (string, error) {
	q.indexes = append(q.indexes, args)
	return "202", nil
}

func (q *fakeQueue) Status(ctx context.Context, taskID string) (*jobqueue.TaskStatus, error) {
	st, ok := q.status[taskID]
	if !ok {
		return nil, jobqueue.ErrTaskNotFound
	}
	return st, nil
}

func newTestServer(q *fakeQueue, mutate ...func(*Options)) *Server {
	opts := Options{
		APISecretKey:      testToken,
		WebhookSecret:     testSecret,
		AutoReviewEnabled: true,
		ReviewCommand:     "/review",
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewServer(opts, q)
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(&fakeQueue{})

	rec, out := do(t, s, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", out["status"])
	require.Equal(t, "2.0.0", out["version"])

	rec, out = do(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "connected", out["database"])

	s = newTestServer(&fakeQueue{}, func(o *Options) {
		o.Health = func(context.Context) error { return errors.New("connection refused") }
	})
	rec, out = do(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "disconnected", out["database"])
}

func TestTriggerReview(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(q)
	body := `{"owner": "acme", "repo": "api", "pr_number": 7, "installation_id": 99}`

	rec, out := do(t, s, http.MethodPost, "/api/review", body, bearer(testToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "queued", out["status"])
	require.Equal(t, "101", out["task_id"])
	require.EqualValues(t, 7, out["pr_number"])

	require.Len(t, q.reviews, 1)
	require.Equal(t, models.PRData{PRNumber: 7, Repository: "acme/api", RepositoryID: "acme/api", InstallationID: 99}, q.reviews[0])
}

func TestTriggerReview_Auth(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(q)
	body := `{"owner": "acme", "repo": "api", "pr_number": 7, "installation_id": 99}`

	rec, out := do(t, s, http.MethodPost, "/api/review", body, bearer("wrong"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Invalid API token", out["message"])

	rec, _ = do(t, s, http.MethodPost, "/api/review", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, q.reviews)
}

func TestTriggerReview_Validation(t *testing.T) {
	s := newTestServer(&fakeQueue{})

	rec, _ := do(t, s, http.MethodPost, "/api/review", `{"owner": "acme", "repo": "api", "pr_number": 0}`, bearer(testToken))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/review", `{not json`, bearer(testToken))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerReview_EnqueueFailure(t *testing.T) {
	s := newTestServer(&fakeQueue{err: errors.New("db down")})
	rec, _ := do(t, s, http.MethodPost, "/api/review", `{"owner": "acme", "repo": "api", "pr_number": 7}`, bearer(testToken))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriggerReviewCommand(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(q)

	rec, _ := do(t, s, http.MethodPost, "/api/review/command",
		`{"owner": "acme", "repo": "api", "pr_number": 7, "installation_id": 1, "comment_body": "/review please"}`, bearer(testToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "github-actions", q.reviews[0].Commenter)

	rec, _ = do(t, s, http.MethodPost, "/api/review/command",
		`{"owner": "acme", "repo": "api", "pr_number": 7, "comment_body": "/review", "commenter": "octocat"}`, bearer(testToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "octocat", q.reviews[1].Commenter)

	rec, _ = do(t, s, http.MethodPost, "/api/review/command",
		`{"owner": "acme", "repo": "api", "pr_number": 7, "comment_body": "nice work"}`, bearer(testToken))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Len(t, q.reviews, 2)
}

func TestTriggerIndex(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(q)

	rec, out := do(t, s, http.MethodPost, "/api/index", `{"owner": "acme", "repo": "api", "installation_id": 3}`, bearer(testToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "202", out["task_id"])
	require.Equal(t, jobqueue.IndexArgs{Repository: "acme/api", RepositoryID: "acme/api", InstallationID: 3}, q.indexes[0])
}

func TestTaskStatus(t *testing.T) {
	q := &fakeQueue{status: map[string]*jobqueue.TaskStatus{
		"5": {TaskID: "5", Status: jobqueue.TaskDone, Result: json.RawMessage(`{"status":"success","pr_number":7}`)},
	}}
	s := newTestServer(q)

	rec, out := do(t, s, http.MethodGet, "/task/5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "done", out["status"])
	require.Equal(t, "success", out["result"].(map[string]any)["status"])

	rec, _ = do(t, s, http.MethodGet, "/task/404", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func signed(event, body string) map[string]string {
	return map[string]string{
		"X-GitHub-Event":      event,
		"X-Hub-Signature-256": ghprovider.Sign(testSecret, []byte(body)),
	}
}

const pullRequestOpened = `{
	"action": "opened",
	"number": 12,
	"pull_request": {"number": 12, "user": {"login": "alice"}, "head": {"sha": "abc"}, "base": {"sha": "def"}},
	"repository": {"id": 1, "full_name": "acme/api"},
	"installation": {"id": 77}
}`

func TestGitHubWebhook_PullRequest(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(q)

	rec, out := do(t, s, http.MethodPost, "/webhooks/github", pullRequestOpened, signed("pull_request", pullRequestOpened))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "queued", out["status"])

	require.Len(t, q.reviews, 1)
	pr := q.reviews[0]
	require.Equal(t, 12, pr.PRNumber)
	require.Equal(t, "acme/api", pr.RepositoryID)
	require.Equal(t, int64(77), pr.InstallationID)
	require.Equal(t, "alice", pr.Author)
	require.Equal(t, "abc", pr.HeadSHA)
}

func TestGitHubWebhook_Ignored(t *testing.T) {
	q := &fakeQueue{}
	closed := strings.Replace(pullRequestOpened, `"opened"`, `"closed"`, 1)

	s := newTestServer(q)
	_, out := do(t, s, http.MethodPost, "/webhooks/github", closed, signed("pull_request", closed))
	require.Equal(t, "ignored", out["status"])

	s = newTestServer(q, func(o *Options) { o.AutoReviewEnabled = false })
	_, out = do(t, s, http.MethodPost, "/webhooks/github", pullRequestOpened, signed("pull_request", pullRequestOpened))
	require.Equal(t, "ignored", out["status"])

	_, out = do(t, s, http.MethodPost, "/webhooks/github", `{}`, signed("push", `{}`))
	require.Equal(t, "ignored", out["status"])

	_, out = do(t, s, http.MethodPost, "/webhooks/github", `{}`, signed("ping", `{}`))
	require.Equal(t, "pong", out["status"])

	require.Empty(t, q.reviews)
}

func TestGitHubWebhook_BadSignature(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(q)

	headers := signed("pull_request", pullRequestOpened)
	headers["X-Hub-Signature-256"] = ghprovider.Sign("other", []byte(pullRequestOpened))
	rec, _ := do(t, s, http.MethodPost, "/webhooks/github", pullRequestOpened, headers)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, q.reviews)
}

func TestGitHubWebhook_IssueComment(t *testing.T) {
	comment := func(body string, onPR bool) string {
		pr := `null`
		if onPR {
			pr = `{"url": "https://api.github.com/repos/acme/api/pulls/12"}`
		}
		return `{
			"action": "created",
			"issue": {"number": 12, "pull_request": ` + pr + `, "user": {"login": "alice"}},
			"comment": {"body": "` + body + `", "user": {"login": "bob"}},
			"repository": {"full_name": "acme/api"},
			"installation": {"id": 77}
		}`
	}

	q := &fakeQueue{}
	s := newTestServer(q)

	payload := comment("/review focus on errors", true)
	_, out := do(t, s, http.MethodPost, "/webhooks/github", payload, signed("issue_comment", payload))
	require.Equal(t, "queued", out["status"])
	require.Len(t, q.reviews, 1)
	require.Equal(t, "bob", q.reviews[0].Commenter)
	require.Equal(t, "alice", q.reviews[0].Author)

	for _, p := range []string{comment("/review", false), comment("looks good", true)} {
		_, out = do(t, s, http.MethodPost, "/webhooks/github", p, signed("issue_comment", p))
		require.Equal(t, "ignored", out["status"])
	}
	require.Len(t, q.reviews, 1)
}
