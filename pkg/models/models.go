package models

import (
	"fmt"
	"strings"
	"time"
)

// PRData is the normalized trigger payload for one review run. Webhooks,
// direct API calls and the manual command all produce this shape.
type PRData struct {
	PRNumber       int    `json:"pr_number"`
	Repository     string `json:"repository"` // owner/name
	RepositoryID   string `json:"repository_id"`
	InstallationID int64  `json:"installation_id"`
	Author         string `json:"author,omitempty"`
	HeadSHA        string `json:"head_sha,omitempty"`
	BaseSHA        string `json:"base_sha,omitempty"`
	Commenter      string `json:"commenter,omitempty"`
}

// Validate checks the fields every run needs.
func (p PRData) Validate() error {
	if p.PRNumber <= 0 {
		return fmt.Errorf("pr_number must be positive, got %d", p.PRNumber)
	}
	if _, _, err := SplitRepository(p.Repository); err != nil {
		return err
	}
	if strings.TrimSpace(p.RepositoryID) == "" {
		return fmt.Errorf("repository_id is required")
	}
	return nil
}

// SplitRepository splits "owner/name" into its parts.
func SplitRepository(fullName string) (owner, name string, err error) {
	parts := strings.Split(strings.TrimSpace(fullName), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be in owner/name form, got %q", fullName)
	}
	return parts[0], parts[1], nil
}

// RunResult is what a completed review run reports.
type RunResult struct {
	Status         string `json:"status"`
	PRNumber       int    `json:"pr_number"`
	FilesReviewed  int    `json:"files_reviewed"`
	CommentsPosted int    `json:"comments_posted"`
}

// IndexResult is what a repository indexing run reports.
type IndexResult struct {
	Status       string `json:"status"`
	Repository   string `json:"repository"`
	FilesIndexed int    `json:"files_indexed"`
}

const StatusSuccess = "success"

// PRInfo is pull request metadata from the code host.
type PRInfo struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Author      string    `json:"author"`
	HeadSHA     string    `json:"head_sha"`
	BaseSHA     string    `json:"base_sha"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PRFile is one changed file of a pull request. Patch is empty for binary
// files and for diffs the code host declines to render.
type PRFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch"`
	SHA       string `json:"sha"`
}

// ContentEntry is a file or directory in a repository listing.
type ContentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "dir"
	Size int    `json:"size"`
}

const (
	ContentTypeFile = "file"
	ContentTypeDir  = "dir"
)

// ReviewComment is a comment produced by a review. Line is nil when the issue
// is not tied to a specific line.
type ReviewComment struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
	Body string `json:"body"`
}

// Review events accepted by the code host.
const (
	ReviewEventComment        = "COMMENT"
	ReviewEventApprove        = "APPROVE"
	ReviewEventRequestChanges = "REQUEST_CHANGES"
)
