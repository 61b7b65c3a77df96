package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/prmemory/internal/retry"
	"github.com/prmemory/pkg/models"
)

const (
	DefaultAPIURL = "https://api.github.com"
	userAgent     = "prmemory-bot"
	maxPerPage    = 100
	maxErrorBody  = 4096
)

// Client talks to the GitHub REST API with an installation token.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.RetryConfig
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetryConfig sets the backoff used for read requests.
func WithRetryConfig(cfg retry.RetryConfig) ClientOption {
	return func(c *Client) { c.retryConfig = cfg }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(5), 5),
		retryConfig: retry.CodeHostRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiPullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	State string `json:"state"`
	User  struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		SHA string `json:"sha"`
	} `json:"base"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetPRInfo fetches pull request metadata.
func (c *Client) GetPRInfo(ctx context.Context, repository string, prNumber int) (*models.PRInfo, error) {
	var pr apiPullRequest
	path := fmt.Sprintf("/repos/%s/pulls/%d", repository, prNumber)
	if err := c.get(ctx, "get pull request", path, &pr); err != nil {
		return nil, err
	}
	return &models.PRInfo{
		Title:       pr.Title,
		Description: pr.Body,
		Author:      pr.User.Login,
		HeadSHA:     pr.Head.SHA,
		BaseSHA:     pr.Base.SHA,
		State:       pr.State,
		CreatedAt:   pr.CreatedAt,
		UpdatedAt:   pr.UpdatedAt,
	}, nil
}

// GetPRFiles returns up to maxFiles changed files in the order GitHub lists
// them. A maxFiles of zero or less returns every file.
func (c *Client) GetPRFiles(ctx context.Context, repository string, prNumber, maxFiles int) ([]models.PRFile, error) {
	perPage := maxPerPage
	if maxFiles > 0 && maxFiles < perPage {
		perPage = maxFiles
	}

	var files []models.PRFile
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("per_page", strconv.Itoa(perPage))
		params.Set("page", strconv.Itoa(page))
		path := fmt.Sprintf("/repos/%s/pulls/%d/files?%s", repository, prNumber, params.Encode())

		var batch []models.PRFile
		if err := c.get(ctx, "list pull request files", path, &batch); err != nil {
			return nil, err
		}
		for _, f := range batch {
			if maxFiles > 0 && len(files) >= maxFiles {
				return files, nil
			}
			files = append(files, f)
		}
		if len(batch) < perPage || (maxFiles > 0 && len(files) >= maxFiles) {
			return files, nil
		}
	}
}

type apiContent struct {
	models.ContentEntry
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContent returns the decoded text of a file at ref. Directories
// yield an empty string.
func (c *Client) GetFileContent(ctx context.Context, repository, filePath, ref string) (string, error) {
	path := fmt.Sprintf("/repos/%s/contents/%s", repository, escapePath(filePath))
	if ref != "" {
		path += "?ref=" + url.QueryEscape(ref)
	}

	var raw json.RawMessage
	if err := c.get(ctx, "get file content", path, &raw); err != nil {
		return "", err
	}
	if isJSONArray(raw) {
		return "", nil
	}

	var content apiContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return "", &CodeHostError{Op: "get file content", Err: err}
	}
	if content.Encoding != "base64" {
		return content.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", &CodeHostError{Op: "get file content", Err: fmt.Errorf("decode %s: %w", filePath, err)}
	}
	return string(decoded), nil
}

// ListContents lists a directory of the default branch. An empty path lists
// the repository root; a file path yields a single entry.
func (c *Client) ListContents(ctx context.Context, repository, dirPath string) ([]models.ContentEntry, error) {
	path := fmt.Sprintf("/repos/%s/contents", repository)
	if p := escapePath(dirPath); p != "" {
		path += "/" + p
	}

	var raw json.RawMessage
	if err := c.get(ctx, "list contents", path, &raw); err != nil {
		return nil, err
	}

	if isJSONArray(raw) {
		var entries []models.ContentEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &CodeHostError{Op: "list contents", Err: err}
		}
		return entries, nil
	}

	var entry models.ContentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, &CodeHostError{Op: "list contents", Err: err}
	}
	return []models.ContentEntry{entry}, nil
}

// PostIssueComment posts a top-level comment on the pull request conversation.
func (c *Client) PostIssueComment(ctx context.Context, repository string, prNumber int, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repository, prNumber)
	return c.send(ctx, "post issue comment", http.MethodPost, path, map[string]interface{}{"body": body}, nil)
}

// PostReviewComment posts one comment anchored to a line of the new file.
// Without a line the comment goes to the conversation instead.
func (c *Client) PostReviewComment(ctx context.Context, repository string, prNumber int, commitID string, comment models.ReviewComment) error {
	if comment.Line == nil {
		return c.PostIssueComment(ctx, repository, prNumber, comment.Body)
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d/comments", repository, prNumber)
	payload := map[string]interface{}{
		"body":      comment.Body,
		"commit_id": commitID,
		"path":      comment.Path,
		"line":      *comment.Line,
		"side":      "RIGHT",
	}
	return c.send(ctx, "post review comment", http.MethodPost, path, payload, nil)
}

type apiReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Side string `json:"side"`
	Body string `json:"body"`
}

// PostPRReview submits a review with a summary body and inline comments.
// Comments without a line are left out of the review.
func (c *Client) PostPRReview(ctx context.Context, repository string, prNumber int, commitID, body, event string, comments []models.ReviewComment) error {
	inline := make([]apiReviewComment, 0, len(comments))
	for _, cm := range comments {
		if cm.Line == nil {
			continue
		}
		inline = append(inline, apiReviewComment{Path: cm.Path, Line: *cm.Line, Side: "RIGHT", Body: cm.Body})
	}

	payload := map[string]interface{}{
		"body":     body,
		"event":    event,
		"comments": inline,
	}
	if commitID != "" {
		payload["commit_id"] = commitID
	}

	path := fmt.Sprintf("/repos/%s/pulls/%d/reviews", repository, prNumber)
	if err := c.send(ctx, "post pull request review", http.MethodPost, path, payload, nil); err != nil {
		return err
	}
	log.Info().
		Str("repository", repository).
		Int("pr_number", prNumber).
		Int("comments", len(inline)).
		Msg("Posted review")
	return nil
}

// get issues a read request, retrying transient failures.
func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	logger := log.With().Str("component", "github").Str("op", op).Logger()
	result := retry.RetryWithBackoff(ctx, c.retryConfig, func() error {
		return c.send(ctx, op, http.MethodGet, path, nil, out)
	}, &logger)
	if !result.Success {
		return result.LastError
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &CodeHostError{Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &CodeHostError{Op: op, Err: fmt.Errorf("marshal request body: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &CodeHostError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &CodeHostError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &CodeHostError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CodeHostError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func escapePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
