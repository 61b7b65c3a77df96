package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"` // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration `json:"base_delay"`  // Base delay between retries (default: 1s)
	MaxDelay   time.Duration `json:"max_delay"`   // Maximum delay between retries (default: 30s)
	Multiplier float64       `json:"multiplier"`  // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          `json:"jitter"`      // Add random jitter to prevent thundering herd (default: true)
	LogRetries bool          `json:"log_retries"` // Whether to log retry attempts (default: true)

	// ShouldRetry decides whether a failed attempt is worth repeating.
	// Nil means every error is retried.
	ShouldRetry func(error) bool `json:"-"`
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
	RetryReasons  []string      `json:"retry_reasons"`  // Reasons for each retry attempt
}

// LLMRetryConfig returns a retry configuration for model calls. Only transient
// failures are retried; the job-level retry handles the rest.
func LLMRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.5,
		Jitter:      true,
		LogRetries:  true,
		ShouldRetry: IsRetryableError,
	}
}

// CodeHostRetryConfig returns a retry configuration for code-host API calls.
func CodeHostRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		LogRetries:  true,
		ShouldRetry: IsRetryableError,
	}
}

// RetryWithBackoff executes an operation with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) RetryResult {
	return RetryWithBackoffAndReason(ctx, config, func() (error, string) {
		err := operation()
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return err, reason
	}, logger)
}

// RetryWithBackoffAndReason executes an operation with exponential backoff retry logic and custom reason tracking
func RetryWithBackoffAndReason(ctx context.Context, config RetryConfig, operation func() (error, string), logger *zerolog.Logger) RetryResult {
	startTime := time.Now()
	logging := config.LogRetries && logger != nil

	result := RetryResult{
		Attempts:     0,
		Success:      false,
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err, reason := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if logging && attempt > 0 {
				logger.Debug().
					Int("retries", attempt).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		if attempt >= config.MaxRetries || (config.ShouldRetry != nil && !config.ShouldRetry(err)) {
			result.TotalDuration = time.Since(startTime)
			if logging {
				logger.Warn().Err(err).
					Int("attempts", result.Attempts).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation failed, giving up")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		if logging {
			logger.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxRetries+1).
				Dur("delay", delay).
				Msg("Operation failed, retrying")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// ExponentialDelay returns base * 2^attempt, capped at max when max > 0.
// attempt is zero-based.
func ExponentialDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	return calculateDelay(RetryConfig{BaseDelay: base, MaxDelay: max, Multiplier: 2.0}, attempt)
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// up to 10% either way
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"overloaded",
		"429",
		"502",
		"503",
		"504",
		"529",
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
