// Package pipeline runs the review of one pull request from fetch to delivery
// and the repository indexing job that feeds retrieval context.
package pipeline

import (
	"context"
	"fmt"

	"github.com/prmemory/internal/config"
	"github.com/prmemory/internal/review"
	"github.com/prmemory/pkg/models"
)

// CodeHost is the part of the code-host API the pipeline depends on.
type CodeHost interface {
	GetPRInfo(ctx context.Context, repository string, prNumber int) (*models.PRInfo, error)
	GetPRFiles(ctx context.Context, repository string, prNumber, maxFiles int) ([]models.PRFile, error)
	GetFileContent(ctx context.Context, repository, path, ref string) (string, error)
	ListContents(ctx context.Context, repository, path string) ([]models.ContentEntry, error)
	PostIssueComment(ctx context.Context, repository string, prNumber int, body string) error
	PostPRReview(ctx context.Context, repository string, prNumber int, commitID, body, event string, comments []models.ReviewComment) error
}

// HostResolver returns a CodeHost authenticated for one installation.
type HostResolver func(ctx context.Context, installationID int64) (CodeHost, error)

// StaticHost resolves every installation to the same host.
func StaticHost(h CodeHost) HostResolver {
	return func(context.Context, int64) (CodeHost, error) { return h, nil }
}

type ContextRetriever interface {
	RetrieveContext(ctx context.Context, repositoryID, query string, maxChunks int) (string, error)
	IndexFile(ctx context.Context, repositoryID, filePath, content string, chunkSize int) (int, error)
}

type MemoryService interface {
	GetUserContext(ctx context.Context, repositoryID, userID, query string) (string, error)
	RecordReviewHistory(ctx context.Context, prNumber int, repositoryID, userID, content string, commentsCount int) error
}

type ReviewGenerator interface {
	GenerateReview(ctx context.Context, diff, filePath, codeContext, userMemory string) (*review.Result, error)
	SummarizePR(ctx context.Context, title, description string, files []string) string
}

// Settings bounds the work of one run and of one indexing job.
type Settings struct {
	MaxFilesToReview        int
	MaxDiffSize             int
	EnableMemoryPersistence bool
	GenerationWorkers       int
	IncludeOverview         bool

	// ContextQueryChars is how much of a diff is used as the retrieval query.
	ContextQueryChars int
	MaxContextChunks  int

	IndexFileLimit  int
	IndexExtensions []string
	ChunkSize       int
}

func DefaultSettings() Settings {
	return Settings{
		MaxFilesToReview:        10,
		MaxDiffSize:             5000,
		EnableMemoryPersistence: true,
		GenerationWorkers:       1,
		IncludeOverview:         true,
		ContextQueryChars:       500,
		MaxContextChunks:        5,
		IndexFileLimit:          100,
		IndexExtensions:         []string{".py", ".js", ".ts", ".java", ".go", ".rb", ".cpp", ".c", ".h"},
		ChunkSize:               500,
	}
}

// SettingsFromConfig overlays configured values on DefaultSettings.
func SettingsFromConfig(cfg config.ReviewConfig) Settings {
	s := DefaultSettings()
	if cfg.MaxFilesToReview > 0 {
		s.MaxFilesToReview = cfg.MaxFilesToReview
	}
	if cfg.MaxDiffSize > 0 {
		s.MaxDiffSize = cfg.MaxDiffSize
	}
	s.EnableMemoryPersistence = cfg.EnableMemoryPersistence
	if cfg.GenerationWorkers > 0 {
		s.GenerationWorkers = cfg.GenerationWorkers
	}
	s.IncludeOverview = cfg.IncludeOverview
	if cfg.IndexFileLimit > 0 {
		s.IndexFileLimit = cfg.IndexFileLimit
	}
	if len(cfg.IndexExtensions) > 0 {
		s.IndexExtensions = cfg.IndexExtensions
	}
	return s
}

// State is a step of a review run.
type State string

const (
	StateFetching        State = "fetching"
	StateContextualizing State = "contextualizing"
	StateGenerating      State = "generating"
	StateAggregating     State = "aggregating"
	StateDelivering      State = "delivering"
	StateRecording       State = "recording"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// RunError is how a run fails: the state it was in and the cause. Every
// failure is retryable as a whole run.
type RunError struct {
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("review run failed while %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func (e *RunError) Retryable() bool { return true }
