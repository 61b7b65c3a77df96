package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/prmemory/internal/config"
	"github.com/prmemory/internal/retry"
)

// QueueConfig holds the tunables of the River client.
type QueueConfig struct {
	MaxWorkers  int           // concurrent jobs on the default queue
	MaxAttempts int           // total attempts per job, including the first
	RetryBase   time.Duration // delay before the first retry; doubles per attempt
	MaxDelay    time.Duration // cap on a single retry delay, 0 for none
	JobTimeout  time.Duration // upper bound on one attempt
}

// DefaultQueueConfig retries a job twice, after 60s and then 120s.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxWorkers:  10,
		MaxAttempts: 3,
		RetryBase:   60 * time.Second,
		JobTimeout:  10 * time.Minute,
	}
}

// QueueConfigFrom overlays configured values on DefaultQueueConfig.
func QueueConfigFrom(cfg config.QueueConfig) QueueConfig {
	c := DefaultQueueConfig()
	if cfg.MaxWorkers > 0 {
		c.MaxWorkers = cfg.MaxWorkers
	}
	if cfg.MaxAttempts > 0 {
		c.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBase > 0 {
		c.RetryBase = cfg.RetryBase
	}
	if cfg.JobTimeout > 0 {
		c.JobTimeout = cfg.JobTimeout
	}
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: c.MaxWorkers},
	}
}

// RetryPolicy schedules retry n (1-based) after Base * 2^(n-1).
type RetryPolicy struct {
	Base     time.Duration
	MaxDelay time.Duration
	now      func() time.Time
}

func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return now().Add(retry.ExponentialDelay(p.Base, attempt-1, p.MaxDelay))
}
