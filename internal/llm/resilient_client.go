package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/retry"
)

// ResilientCompleter retries transient failures of the wrapped Completer with
// exponential backoff and applies a per-call timeout.
type ResilientCompleter struct {
	inner       Completer
	retryConfig retry.RetryConfig
	timeout     time.Duration
}

func NewResilientCompleter(inner Completer, config retry.RetryConfig, timeout time.Duration) *ResilientCompleter {
	return &ResilientCompleter{inner: inner, retryConfig: config, timeout: timeout}
}

// NewResilientCompleterWithDefaults uses retry.LLMRetryConfig and a two minute timeout.
func NewResilientCompleterWithDefaults(inner Completer) *ResilientCompleter {
	return NewResilientCompleter(inner, retry.LLMRetryConfig(), 2*time.Minute)
}

func (rc *ResilientCompleter) Complete(ctx context.Context, req Request) (string, error) {
	logger := log.With().Str("component", "llm").Logger()

	var text string
	result := retry.RetryWithBackoffAndReason(ctx, rc.retryConfig, func() (error, string) {
		callCtx := ctx
		if rc.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, rc.timeout)
			defer cancel()
		}

		out, err := rc.inner.Complete(callCtx, req)
		if err != nil {
			return err, err.Error()
		}
		text = out
		return nil, ""
	}, &logger)

	if !result.Success {
		var genErr *GenerationError
		if errors.As(result.LastError, &genErr) {
			return "", result.LastError
		}
		return "", &GenerationError{Provider: "resilient", Err: result.LastError}
	}

	if result.Attempts > 1 {
		logger.Info().
			Int("attempts", result.Attempts).
			Strs("retry_reasons", result.RetryReasons).
			Dur("total_duration", result.TotalDuration).
			Msg("Completion succeeded after retries")
	}
	return text, nil
}
