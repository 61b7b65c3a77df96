package review

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/llm"
	"github.com/prmemory/internal/redact"
)

const (
	DefaultMaxTokens        = 4096
	DefaultSummaryMaxTokens = 500

	// fallbackAssessmentLen is how much raw model output stands in for the
	// assessment when the output cannot be parsed.
	fallbackAssessmentLen = 200

	// SummaryUnavailable is returned by SummarizePR when the model call fails.
	SummaryUnavailable = "Unable to generate summary"

	emptyOutputAssessment = "No review content was returned."
)

var errEmptySchema = errors.New("decoded object has none of the review fields")

// Generator turns a file diff plus retrieved context into a structured review.
type Generator struct {
	completer        llm.Completer
	redactor         *redact.Redactor
	maxTokens        int
	summaryMaxTokens int
}

type Option func(*Generator)

func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

func WithSummaryMaxTokens(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.summaryMaxTokens = n
		}
	}
}

// WithRedactor masks secrets in diffs before they are placed in a prompt.
func WithRedactor(r *redact.Redactor) Option {
	return func(g *Generator) { g.redactor = r }
}

func NewGenerator(completer llm.Completer, opts ...Option) *Generator {
	g := &Generator{
		completer:        completer,
		maxTokens:        DefaultMaxTokens,
		summaryMaxTokens: DefaultSummaryMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateReview reviews one file. codeContext and userMemory may be empty.
// Model failures are returned as *llm.GenerationError; output that does not
// fit the review schema yields a degraded Result instead of an error.
func (g *Generator) GenerateReview(ctx context.Context, diff, filePath, codeContext, userMemory string) (*Result, error) {
	if g.redactor != nil {
		var n int
		diff, n = g.redactor.Redact(diff)
		if n > 0 {
			log.Warn().Str("file", filePath).Int("secrets", n).Msg("Secrets redacted from diff before review")
		}
	}

	raw, err := g.completer.Complete(ctx, llm.Request{
		System:    systemPrompt,
		User:      buildReviewPrompt(diff, filePath, codeContext, userMemory),
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		var genErr *llm.GenerationError
		if errors.As(err, &genErr) {
			return nil, err
		}
		return nil, &llm.GenerationError{Provider: "review", Err: err}
	}

	result, err := ParseResult(raw)
	if err != nil {
		log.Warn().Err(err).Str("file", filePath).Msg("Falling back to raw review text")
		return fallbackResult(raw), nil
	}
	return result, nil
}

// ParseResult decodes model output into a Result. Strict decoding of the whole
// text is tried first, then extraction and repair of the embedded JSON object.
// Severities are normalised and a blank assessment is filled from the raw text.
func ParseResult(raw string) (*Result, error) {
	var result Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		result = Result{}
		repaired, derr := llm.DecodeResponse(raw, &result)
		if derr != nil {
			return nil, &ParseError{Err: derr}
		}
		log.Debug().Bool("repaired", repaired).Msg("Review output recovered from surrounding text")
	}

	if result.OverallAssessment == "" && result.Issues == nil && result.PositiveNotes == nil {
		return nil, &ParseError{Err: errEmptySchema}
	}

	for i := range result.Issues {
		result.Issues[i].Severity = NormalizeSeverity(string(result.Issues[i].Severity))
	}
	if result.Issues == nil {
		result.Issues = []Issue{}
	}
	if result.PositiveNotes == nil {
		result.PositiveNotes = []string{}
	}
	if strings.TrimSpace(result.OverallAssessment) == "" {
		result.OverallAssessment = truncateRunes(raw, fallbackAssessmentLen)
	}
	return &result, nil
}

func fallbackResult(raw string) *Result {
	assessment := truncateRunes(raw, fallbackAssessmentLen)
	if strings.TrimSpace(assessment) == "" {
		assessment = emptyOutputAssessment
	}
	return &Result{
		OverallAssessment: assessment,
		Issues:            []Issue{},
		PositiveNotes:     []string{},
		RawText:           raw,
	}
}

// SummarizePR asks for a short description of the whole pull request. It never
// fails; any model error yields SummaryUnavailable.
func (g *Generator) SummarizePR(ctx context.Context, title, description string, files []string) string {
	out, err := g.completer.Complete(ctx, llm.Request{
		User:      buildSummaryPrompt(title, description, files),
		MaxTokens: g.summaryMaxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Msg("PR summary generation failed")
		return SummaryUnavailable
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
