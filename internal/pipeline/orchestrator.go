package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prmemory/internal/logging"
	"github.com/prmemory/internal/review"
	"github.com/prmemory/pkg/models"
)

// Orchestrator reviews one pull request per Run. It holds no per-run state and
// is safe for concurrent use.
type Orchestrator struct {
	hosts     HostResolver
	retriever ContextRetriever
	memory    MemoryService
	generator ReviewGenerator
	settings  Settings
}

func NewOrchestrator(hosts HostResolver, retriever ContextRetriever, memory MemoryService, generator ReviewGenerator, settings Settings) *Orchestrator {
	return &Orchestrator{
		hosts:     hosts,
		retriever: retriever,
		memory:    memory,
		generator: generator,
		settings:  settings,
	}
}

// run carries the in-memory state of one review run.
type run struct {
	pr      models.PRData
	host    CodeHost
	logger  zerolog.Logger
	state   State
	info    *models.PRInfo
	files   []models.PRFile
	author  string
	headSHA string

	eligible    []models.PRFile
	userContext string
	contexts    []string
	reviews     []fileReview
	comments    []models.ReviewComment
	summary     string
}

func (r *run) enter(s State) {
	r.state = s
	r.logger.Debug().Str("state", string(s)).Msg("Review run state")
}

func (r *run) fail(err error) error {
	failed := r.state
	r.state = StateFailed
	r.logger.Error().Err(err).Str("failed_state", string(failed)).Msg("Review run failed")
	return &RunError{State: failed, Err: err}
}

// Run executes Fetching through Done. Any failure aborts the remaining steps
// and is returned as a *RunError.
func (o *Orchestrator) Run(ctx context.Context, pr models.PRData) (*models.RunResult, error) {
	r := &run{
		pr:     pr,
		logger: logging.ForRun(uuid.NewString(), pr.Repository, pr.PRNumber),
	}
	r.logger.Info().Msg("Processing PR review")

	steps := []struct {
		state State
		fn    func(context.Context, *run) error
	}{
		{StateFetching, o.fetch},
		{StateContextualizing, o.contextualize},
		{StateGenerating, o.generate},
		{StateAggregating, o.aggregate},
		{StateDelivering, o.deliver},
		{StateRecording, o.record},
	}
	for _, step := range steps {
		r.enter(step.state)
		if err := step.fn(ctx, r); err != nil {
			return nil, r.fail(err)
		}
	}
	r.enter(StateDone)

	result := &models.RunResult{
		Status:         models.StatusSuccess,
		PRNumber:       pr.PRNumber,
		FilesReviewed:  len(r.reviews),
		CommentsPosted: len(r.comments),
	}
	r.logger.Info().
		Int("files_reviewed", result.FilesReviewed).
		Int("comments_posted", result.CommentsPosted).
		Msg("Successfully completed review")
	return result, nil
}

func (o *Orchestrator) fetch(ctx context.Context, r *run) error {
	if err := r.pr.Validate(); err != nil {
		return err
	}

	host, err := o.hosts(ctx, r.pr.InstallationID)
	if err != nil {
		return fmt.Errorf("resolve code host: %w", err)
	}
	r.host = host

	info, err := host.GetPRInfo(ctx, r.pr.Repository, r.pr.PRNumber)
	if err != nil {
		return err
	}
	r.info = info

	files, err := host.GetPRFiles(ctx, r.pr.Repository, r.pr.PRNumber, o.settings.MaxFilesToReview)
	if err != nil {
		return err
	}
	r.files = files

	r.author = firstNonEmpty(r.pr.Commenter, r.pr.Author, info.Author)
	r.headSHA = firstNonEmpty(r.pr.HeadSHA, info.HeadSHA)

	r.logger.Info().Int("files", len(files)).Str("author", r.author).Msg("Fetched pull request")
	return nil
}

func (o *Orchestrator) contextualize(ctx context.Context, r *run) error {
	for _, f := range r.files {
		size := utf8.RuneCountInString(f.Patch)
		switch {
		case f.Patch == "":
			r.logger.Debug().Str("file", f.Filename).Msg("Skipping file without patch")
			continue
		case size > o.settings.MaxDiffSize:
			r.logger.Warn().
				Str("file", f.Filename).
				Int("diff_size", size).
				Int("max_diff_size", o.settings.MaxDiffSize).
				Msg("Skipping file: diff too large")
			continue
		}
		r.eligible = append(r.eligible, f)
	}

	if !o.settings.EnableMemoryPersistence {
		r.contexts = make([]string, len(r.eligible))
		return nil
	}

	userContext, err := o.memory.GetUserContext(ctx, r.pr.RepositoryID, r.author, "")
	if err != nil {
		return fmt.Errorf("load user context: %w", err)
	}
	r.userContext = userContext

	r.contexts = make([]string, len(r.eligible))
	for i, f := range r.eligible {
		query := truncateRunes(f.Patch, o.settings.ContextQueryChars)
		codeContext, err := o.retriever.RetrieveContext(ctx, r.pr.RepositoryID, query, o.settings.MaxContextChunks)
		if err != nil {
			return fmt.Errorf("retrieve context for %s: %w", f.Filename, err)
		}
		r.contexts[i] = codeContext
	}
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, r *run) error {
	results := make([]*review.Result, len(r.eligible))

	generateOne := func(ctx context.Context, i int) error {
		f := r.eligible[i]
		res, err := o.generator.GenerateReview(ctx, f.Patch, f.Filename, r.contexts[i], r.userContext)
		if err != nil {
			return fmt.Errorf("review %s: %w", f.Filename, err)
		}
		if res.Degraded() {
			r.logger.Warn().Str("file", f.Filename).Msg("Review output could not be parsed; using raw text")
		}
		results[i] = res
		return nil
	}

	if o.settings.GenerationWorkers <= 1 {
		for i := range r.eligible {
			if err := generateOne(ctx, i); err != nil {
				return err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.settings.GenerationWorkers)
		for i := range r.eligible {
			g.Go(func() error { return generateOne(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	r.reviews = make([]fileReview, len(r.eligible))
	for i, f := range r.eligible {
		r.reviews[i] = fileReview{file: f, result: results[i]}
	}
	return nil
}

func (o *Orchestrator) aggregate(ctx context.Context, r *run) error {
	r.comments = buildComments(r.reviews)

	var overview string
	if o.settings.IncludeOverview && len(r.reviews) > 0 {
		names := make([]string, len(r.files))
		for i, f := range r.files {
			names[i] = f.Filename
		}
		overview = o.generator.SummarizePR(ctx, r.info.Title, r.info.Description, names)
		if overview == review.SummaryUnavailable {
			r.logger.Warn().Msg("Posting review without overview")
			overview = ""
		}
	}

	r.summary = buildSummary(r.reviews, overview)
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, r *run) error {
	if hasInline(r.comments) {
		return r.host.PostPRReview(ctx, r.pr.Repository, r.pr.PRNumber, r.headSHA, r.summary, models.ReviewEventComment, r.comments)
	}
	return r.host.PostIssueComment(ctx, r.pr.Repository, r.pr.PRNumber, r.summary)
}

func (o *Orchestrator) record(ctx context.Context, r *run) error {
	if !o.settings.EnableMemoryPersistence {
		return nil
	}
	err := o.memory.RecordReviewHistory(ctx, r.pr.PRNumber, r.pr.RepositoryID, r.author, r.summary, len(r.comments))
	if err != nil {
		// Best effort: the review is already delivered.
		r.logger.Warn().Err(err).Msg("Failed to record review history")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// IsRunError reports whether err came out of a review run.
func IsRunError(err error) (*RunError, bool) {
	var runErr *RunError
	ok := errors.As(err, &runErr)
	return runErr, ok
}
