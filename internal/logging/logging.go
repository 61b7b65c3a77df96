package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. Unknown levels fall back to info.
func Setup(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ForRun returns a logger carrying the identity of one review run.
func ForRun(runID, repository string, prNumber int) zerolog.Logger {
	return log.With().
		Str("run_id", runID).
		Str("repository", repository).
		Int("pr_number", prNumber).
		Logger()
}

// ForRepository returns a logger for repository-scoped jobs such as indexing.
func ForRepository(repository string) zerolog.Logger {
	return log.With().Str("repository", repository).Logger()
}

// Truncate shortens text for log fields.
func Truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
