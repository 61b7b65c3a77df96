// Package jobqueue runs review and indexing jobs on River, a Postgres-backed
// job queue, and reports their status.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/embedding"
	"github.com/prmemory/pkg/models"
)

const (
	KindReview = "pr_review"
	KindIndex  = "index_repository"
)

// ReviewArgs is the payload of a review job.
type ReviewArgs struct {
	models.PRData
}

func (ReviewArgs) Kind() string { return KindReview }

// IndexArgs is the payload of a repository indexing job.
type IndexArgs struct {
	Repository     string `json:"repository"`
	RepositoryID   string `json:"repository_id"`
	InstallationID int64  `json:"installation_id"`
}

func (IndexArgs) Kind() string { return KindIndex }

// Reviewer runs one review. *pipeline.Orchestrator satisfies it.
type Reviewer interface {
	Run(ctx context.Context, pr models.PRData) (*models.RunResult, error)
}

// RepositoryIndexer indexes one repository. *pipeline.Indexer satisfies it.
type RepositoryIndexer interface {
	IndexRepository(ctx context.Context, repository, repositoryID string, installationID int64) (*models.IndexResult, error)
}

// recordOutput is swapped in tests, where no River client runs the worker.
var recordOutput = river.RecordOutput

// ReviewWorker handles pr_review jobs
type ReviewWorker struct {
	river.WorkerDefaults[ReviewArgs]
	reviewer Reviewer
	timeout  time.Duration
}

func (w *ReviewWorker) Timeout(*river.Job[ReviewArgs]) time.Duration { return w.timeout }

// Work runs the review. An invalid payload cancels the job, any other failure
// is returned so River retries the whole run.
func (w *ReviewWorker) Work(ctx context.Context, job *river.Job[ReviewArgs]) error {
	pr := job.Args.PRData
	logger := log.With().
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Str("repository", pr.Repository).
		Int("pr_number", pr.PRNumber).
		Logger()

	if err := pr.Validate(); err != nil {
		logger.Error().Err(err).Msg("Cancelling review job with invalid payload")
		return river.JobCancel(err)
	}

	result, err := w.reviewer.Run(ctx, pr)
	if err != nil {
		logger.Warn().Err(err).Msg("Review job failed")
		return err
	}

	if err := recordOutput(ctx, result); err != nil {
		logger.Warn().Err(err).Msg("Failed to record job output")
	}
	return nil
}

// IndexWorker handles index_repository jobs
type IndexWorker struct {
	river.WorkerDefaults[IndexArgs]
	indexer RepositoryIndexer
	timeout time.Duration
}

func (w *IndexWorker) Timeout(*river.Job[IndexArgs]) time.Duration { return w.timeout }

func (w *IndexWorker) Work(ctx context.Context, job *river.Job[IndexArgs]) error {
	args := job.Args
	logger := log.With().Int64("job_id", job.ID).Str("repository", args.Repository).Logger()

	if _, _, err := models.SplitRepository(args.Repository); err != nil {
		logger.Error().Err(err).Msg("Cancelling index job with invalid payload")
		return river.JobCancel(err)
	}
	repositoryID := args.RepositoryID
	if repositoryID == "" {
		repositoryID = args.Repository
	}

	result, err := w.indexer.IndexRepository(ctx, args.Repository, repositoryID, args.InstallationID)
	if err != nil {
		var cfgErr *embedding.ConfigurationError
		if errors.As(err, &cfgErr) {
			logger.Error().Err(err).Msg("Cancelling index job: configuration error")
			return river.JobCancel(err)
		}
		logger.Warn().Err(err).Msg("Index job failed")
		return err
	}

	if err := recordOutput(ctx, result); err != nil {
		logger.Warn().Err(err).Msg("Failed to record job output")
	}
	return nil
}

// Task states reported by Status.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// TaskStatus is what Status reports for one job.
type TaskStatus struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// ErrTaskNotFound is returned by Status for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// Queue manages the River client
type Queue struct {
	client *river.Client[pgx.Tx]
	config QueueConfig
}

// NewQueue creates a client that inserts jobs and, when reviewer and indexer
// are non-nil, also works them. Pass nil for both to get an insert-only queue.
func NewQueue(pool *pgxpool.Pool, cfg QueueConfig, reviewer Reviewer, indexer RepositoryIndexer) (*Queue, error) {
	riverCfg := &river.Config{
		MaxAttempts: cfg.MaxAttempts,
		RetryPolicy: &RetryPolicy{Base: cfg.RetryBase, MaxDelay: cfg.MaxDelay},
		JobTimeout:  cfg.JobTimeout,
	}

	if reviewer != nil || indexer != nil {
		workers := river.NewWorkers()
		if reviewer != nil {
			river.AddWorker(workers, &ReviewWorker{reviewer: reviewer, timeout: cfg.JobTimeout})
		}
		if indexer != nil {
			river.AddWorker(workers, &IndexWorker{indexer: indexer, timeout: cfg.JobTimeout})
		}
		riverCfg.Workers = workers
		riverCfg.Queues = cfg.RiverQueueConfig()
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &Queue{client: client, config: cfg}, nil
}

// Start starts the job queue workers
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop waits for running jobs to finish
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueReview queues a review run and returns its task id.
func (q *Queue) EnqueueReview(ctx context.Context, pr models.PRData) (string, error) {
	if err := pr.Validate(); err != nil {
		return "", err
	}
	res, err := q.client.Insert(ctx, ReviewArgs{PRData: pr}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to queue review job: %w", err)
	}
	log.Info().
		Int64("job_id", res.Job.ID).
		Str("repository", pr.Repository).
		Int("pr_number", pr.PRNumber).
		Msg("Queued review job")
	return formatTaskID(res.Job.ID), nil
}

// EnqueueIndex queues a repository indexing job and returns its task id.
func (q *Queue) EnqueueIndex(ctx context.Context, args IndexArgs) (string, error) {
	if _, _, err := models.SplitRepository(args.Repository); err != nil {
		return "", err
	}
	res, err := q.client.Insert(ctx, args, nil)
	if err != nil {
		return "", fmt.Errorf("failed to queue index job: %w", err)
	}
	log.Info().Int64("job_id", res.Job.ID).Str("repository", args.Repository).Msg("Queued index job")
	return formatTaskID(res.Job.ID), nil
}

// Status reports the state of a queued job and, once done, its result.
func (q *Queue) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	id, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return nil, ErrTaskNotFound
	}
	job, err := q.client.JobGet(ctx, id)
	if err != nil {
		if errors.Is(err, river.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return statusFromJob(job), nil
}

func statusFromJob(job *rivertype.JobRow) *TaskStatus {
	st := &TaskStatus{
		TaskID: formatTaskID(job.ID),
		Status: taskState(job.State),
	}
	if out := job.Output(); len(out) > 0 {
		st.Result = json.RawMessage(out)
	}
	if st.Status == TaskFailed && len(job.Errors) > 0 {
		st.Error = job.Errors[len(job.Errors)-1].Error
	}
	return st
}

func taskState(s rivertype.JobState) string {
	switch s {
	case rivertype.JobStateRunning:
		return TaskRunning
	case rivertype.JobStateCompleted:
		return TaskDone
	case rivertype.JobStateCancelled, rivertype.JobStateDiscarded:
		return TaskFailed
	default:
		return TaskPending
	}
}

func formatTaskID(id int64) string { return strconv.FormatInt(id, 10) }

// Migrate applies River's own schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied River migration")
	}
	return nil
}
