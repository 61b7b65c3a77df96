package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/prmemory/internal/llm"
	"github.com/prmemory/pkg/models"
)

type postedReview struct {
	commitID string
	body     string
	event    string
	comments []models.ReviewComment
}

type fakeHost struct {
	mu sync.Mutex

	info     *models.PRInfo
	files    []models.PRFile
	infoErr  error
	postErr  error
	maxAsked int

	// repository tree for indexing: directory path -> entries
	tree        map[string][]models.ContentEntry
	contents    map[string]string
	contentErrs map[string]error

	issueComments []string
	reviews       []postedReview
}

func (h *fakeHost) GetPRInfo(ctx context.Context, repository string, prNumber int) (*models.PRInfo, error) {
	if h.infoErr != nil {
		return nil, h.infoErr
	}
	return h.info, nil
}

func (h *fakeHost) GetPRFiles(ctx context.Context, repository string, prNumber, maxFiles int) ([]models.PRFile, error) {
	h.maxAsked = maxFiles
	if maxFiles > 0 && len(h.files) > maxFiles {
		return h.files[:maxFiles], nil
	}
	return h.files, nil
}

func (h *fakeHost) GetFileContent(ctx context.Context, repository, path, ref string) (string, error) {
	if err := h.contentErrs[path]; err != nil {
		return "", err
	}
	return h.contents[path], nil
}

func (h *fakeHost) ListContents(ctx context.Context, repository, path string) ([]models.ContentEntry, error) {
	entries, ok := h.tree[path]
	if !ok {
		return nil, fmt.Errorf("no such directory %q", path)
	}
	return entries, nil
}

func (h *fakeHost) PostIssueComment(ctx context.Context, repository string, prNumber int, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.postErr != nil {
		return h.postErr
	}
	h.issueComments = append(h.issueComments, body)
	return nil
}

func (h *fakeHost) PostPRReview(ctx context.Context, repository string, prNumber int, commitID, body, event string, comments []models.ReviewComment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.postErr != nil {
		return h.postErr
	}
	h.reviews = append(h.reviews, postedReview{commitID: commitID, body: body, event: event, comments: comments})
	return nil
}

var fileLine = regexp.MustCompile(`(?m)^File: (.+)$`)

// scriptedCompleter answers review prompts by file name and summary prompts
// with a fixed overview.
type scriptedCompleter struct {
	mu        sync.Mutex
	byFile    map[string]string
	errByFile map[string]error
	summary   string
	summErr   error
	prompts   []llm.Request
}

func (c *scriptedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req)
	c.mu.Unlock()

	if req.System == "" {
		if c.summErr != nil {
			return "", c.summErr
		}
		return c.summary, nil
	}

	m := fileLine.FindStringSubmatch(req.User)
	if m == nil {
		return "", errors.New("prompt without file")
	}
	file := strings.TrimSpace(m[1])
	if err := c.errByFile[file]; err != nil {
		return "", err
	}
	if out, ok := c.byFile[file]; ok {
		return out, nil
	}
	return `{"overall_assessment": "Looks fine", "issues": [], "positive_notes": []}`, nil
}

func (c *scriptedCompleter) reviewPrompts() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []llm.Request
	for _, p := range c.prompts {
		if p.System != "" {
			out = append(out, p)
		}
	}
	return out
}

// makePatch returns a hunk of added lines at least size bytes long.
func makePatch(size int) string {
	var b strings.Builder
	b.WriteString("@@ -0,0 +1,200 @@\n")
	for i := 1; b.Len() < size; i++ {
		fmt.Fprintf(&b, "+line %d of the change\n", i)
	}
	return b.String()[:size]
}
