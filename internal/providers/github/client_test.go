package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prmemory/internal/retry"
	"github.com/prmemory/pkg/models"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func newTestClient(rt roundTripFunc) *Client {
	return NewClient("https://api.github.test", "tok",
		WithHTTPClient(&http.Client{Transport: rt}),
		WithRateLimit(0),
		WithRetryConfig(retry.RetryConfig{
			MaxRetries:  2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2,
			ShouldRetry: retry.IsRetryableError,
		}),
	)
}

func TestGetPRInfo(t *testing.T) {
	var capturedURL, capturedAuth string
	client := newTestClient(func(req *http.Request) *http.Response {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		return jsonResponse(http.StatusOK, `{
			"title": "Add cache", "body": null, "state": "open",
			"user": {"login": "alice"},
			"head": {"sha": "abc"}, "base": {"sha": "def"},
			"created_at": "2024-01-02T03:04:05Z", "updated_at": "2024-01-03T03:04:05Z"
		}`)
	})

	info, err := client.GetPRInfo(context.Background(), "owner/repo", 7)
	require.NoError(t, err)
	require.Equal(t, "https://api.github.test/repos/owner/repo/pulls/7", capturedURL)
	require.Equal(t, "token tok", capturedAuth)
	require.Equal(t, "Add cache", info.Title)
	require.Equal(t, "", info.Description)
	require.Equal(t, "alice", info.Author)
	require.Equal(t, "abc", info.HeadSHA)
	require.Equal(t, "def", info.BaseSHA)
	require.Equal(t, 2024, info.CreatedAt.Year())
}

func TestGetPRFiles_CapsAndPaginates(t *testing.T) {
	var pages []string
	client := newTestClient(func(req *http.Request) *http.Response {
		pages = append(pages, req.URL.Query().Get("page"))
		perPage := req.URL.Query().Get("per_page")
		require.Equal(t, "3", perPage)

		var files []models.PRFile
		for i := 0; i < 3; i++ {
			files = append(files, models.PRFile{Filename: fmt.Sprintf("p%s-%d.go", req.URL.Query().Get("page"), i), Patch: "@@ -1 +1 @@"})
		}
		data, _ := json.Marshal(files)
		return jsonResponse(http.StatusOK, string(data))
	})

	files, err := client.GetPRFiles(context.Background(), "owner/repo", 1, 3)
	require.NoError(t, err)
	require.Len(t, files, 3)
	require.Equal(t, []string{"1"}, pages)
	require.Equal(t, "p1-0.go", files[0].Filename)
}

func TestGetPRFiles_StopsOnShortPage(t *testing.T) {
	calls := 0
	client := newTestClient(func(req *http.Request) *http.Response {
		calls++
		if calls == 1 {
			var files []models.PRFile
			for i := 0; i < 100; i++ {
				files = append(files, models.PRFile{Filename: fmt.Sprintf("f%d.go", i)})
			}
			data, _ := json.Marshal(files)
			return jsonResponse(http.StatusOK, string(data))
		}
		return jsonResponse(http.StatusOK, `[{"filename": "last.go"}]`)
	})

	files, err := client.GetPRFiles(context.Background(), "owner/repo", 1, 0)
	require.NoError(t, err)
	require.Len(t, files, 101)
	require.Equal(t, 2, calls)
}

func TestGetFileContent(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("package main\n\nfunc main() {}\n"))
	encoded = encoded[:10] + "\n" + encoded[10:]

	var capturedURL string
	client := newTestClient(func(req *http.Request) *http.Response {
		capturedURL = req.URL.String()
		return jsonResponse(http.StatusOK, fmt.Sprintf(`{"type": "file", "path": "cmd/my file.go", "encoding": "base64", "content": %q}`, encoded))
	})

	content, err := client.GetFileContent(context.Background(), "owner/repo", "cmd/my file.go", "abc")
	require.NoError(t, err)
	require.Equal(t, "package main\n\nfunc main() {}\n", content)
	require.Equal(t, "https://api.github.test/repos/owner/repo/contents/cmd/my%20file.go?ref=abc", capturedURL)
}

func TestGetFileContent_DirectoryIsEmpty(t *testing.T) {
	client := newTestClient(func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[{"type": "file", "path": "a.go"}]`)
	})

	content, err := client.GetFileContent(context.Background(), "owner/repo", "pkg", "")
	require.NoError(t, err)
	require.Empty(t, content)
}

func TestListContents(t *testing.T) {
	var urls []string
	client := newTestClient(func(req *http.Request) *http.Response {
		urls = append(urls, req.URL.String())
		if req.URL.Path == "/repos/owner/repo/contents" {
			return jsonResponse(http.StatusOK, `[{"name": "pkg", "path": "pkg", "type": "dir"}, {"name": "a.go", "path": "a.go", "type": "file", "size": 10}]`)
		}
		return jsonResponse(http.StatusOK, `{"name": "b.go", "path": "pkg/b.go", "type": "file"}`)
	})

	root, err := client.ListContents(context.Background(), "owner/repo", "")
	require.NoError(t, err)
	require.Len(t, root, 2)
	require.Equal(t, models.ContentTypeDir, root[0].Type)

	single, err := client.ListContents(context.Background(), "owner/repo", "pkg/b.go")
	require.NoError(t, err)
	require.Equal(t, []models.ContentEntry{{Name: "b.go", Path: "pkg/b.go", Type: "file"}}, single)
	require.Equal(t, "https://api.github.test/repos/owner/repo/contents/pkg/b.go", urls[1])
}

func TestPostPRReview_OnlyLineCommentsInline(t *testing.T) {
	var capturedURL string
	var captured map[string]interface{}
	client := newTestClient(func(req *http.Request) *http.Response {
		capturedURL = req.URL.String()
		payload, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(payload, &captured)
		return jsonResponse(http.StatusOK, `{}`)
	})

	line := 12
	err := client.PostPRReview(context.Background(), "owner/repo", 5, "abc", "summary", models.ReviewEventComment, []models.ReviewComment{
		{Path: "a.go", Line: &line, Body: "inline"},
		{Path: "a.go", Body: "file level"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://api.github.test/repos/owner/repo/pulls/5/reviews", capturedURL)
	require.Equal(t, "COMMENT", captured["event"])
	require.Equal(t, "abc", captured["commit_id"])
	require.Equal(t, "summary", captured["body"])

	comments := captured["comments"].([]interface{})
	require.Len(t, comments, 1)
	first := comments[0].(map[string]interface{})
	require.Equal(t, float64(12), first["line"])
	require.Equal(t, "RIGHT", first["side"])
}

func TestPostReviewComment_WithoutLineUsesIssueEndpoint(t *testing.T) {
	var capturedURL string
	client := newTestClient(func(req *http.Request) *http.Response {
		capturedURL = req.URL.String()
		return jsonResponse(http.StatusCreated, `{}`)
	})

	require.NoError(t, client.PostReviewComment(context.Background(), "owner/repo", 5, "abc", models.ReviewComment{Path: "a.go", Body: "x"}))
	require.Equal(t, "https://api.github.test/repos/owner/repo/issues/5/comments", capturedURL)

	line := 3
	require.NoError(t, client.PostReviewComment(context.Background(), "owner/repo", 5, "abc", models.ReviewComment{Path: "a.go", Line: &line, Body: "x"}))
	require.Equal(t, "https://api.github.test/repos/owner/repo/pulls/5/comments", capturedURL)
}

func TestClient_ErrorsAreCodeHostErrors(t *testing.T) {
	client := newTestClient(func(req *http.Request) *http.Response {
		return jsonResponse(http.StatusNotFound, `{"message": "Not Found"}`)
	})

	_, err := client.GetPRInfo(context.Background(), "owner/repo", 1)
	var chErr *CodeHostError
	require.True(t, errors.As(err, &chErr))
	require.Equal(t, http.StatusNotFound, chErr.StatusCode)

	err = client.PostIssueComment(context.Background(), "owner/repo", 1, "hi")
	require.ErrorAs(t, err, &chErr)
}

func TestClient_RetriesTransientReads(t *testing.T) {
	calls := 0
	client := newTestClient(func(req *http.Request) *http.Response {
		calls++
		if calls < 3 {
			return jsonResponse(http.StatusServiceUnavailable, `busy`)
		}
		return jsonResponse(http.StatusOK, `{"title": "ok"}`)
	})

	info, err := client.GetPRInfo(context.Background(), "owner/repo", 1)
	require.NoError(t, err)
	require.Equal(t, "ok", info.Title)
	require.Equal(t, 3, calls)
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	calls := 0
	client := newTestClient(func(req *http.Request) *http.Response {
		calls++
		return jsonResponse(http.StatusServiceUnavailable, `busy`)
	})

	require.Error(t, client.PostIssueComment(context.Background(), "owner/repo", 1, "hi"))
	require.Equal(t, 1, calls)
}
