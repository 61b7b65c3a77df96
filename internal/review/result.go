package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity ranks a review issue.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

var severityAliases = map[string]Severity{
	"critical": SeverityCritical,
	"blocker":  SeverityCritical,
	"major":    SeverityMajor,
	"high":     SeverityMajor,
	"error":    SeverityMajor,
	"minor":    SeverityMinor,
	"low":      SeverityMinor,
	"warning":  SeverityMinor,
	"nit":      SeveritySuggestion,
	"info":     SeveritySuggestion,
}

// NormalizeSeverity maps free-form model output onto the four known levels.
// Anything unrecognised becomes SeveritySuggestion.
func NormalizeSeverity(s string) Severity {
	if sev, ok := severityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return sev
	}
	return SeveritySuggestion
}

// Issue is a single finding on a reviewed file.
type Issue struct {
	Line        *int     `json:"line"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  *string  `json:"suggestion,omitempty"`
}

// UnmarshalJSON accepts line numbers given as numbers, numeric strings or null.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Line        json.RawMessage `json:"line"`
		Severity    string          `json:"severity"`
		Description string          `json:"description"`
		Suggestion  *string         `json:"suggestion"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	i.Line = parseLine(raw.Line)
	i.Severity = Severity(raw.Severity)
	i.Description = raw.Description
	i.Suggestion = raw.Suggestion
	if i.Suggestion != nil && strings.TrimSpace(*i.Suggestion) == "" {
		i.Suggestion = nil
	}
	return nil
}

var leadingLine = regexp.MustCompile(`^\D*?(\d+)`)

// parseLine accepts numbers, numeric strings and ranges such as "14-16",
// which resolve to their first line. Anything else leaves the issue without a
// line.
func parseLine(raw json.RawMessage) *int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n := 0
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n = int(f)
	} else if m := leadingLine.FindStringSubmatch(s); m != nil {
		n, _ = strconv.Atoi(m[1])
	}
	if n <= 0 {
		return nil
	}
	return &n
}

// Result is the structured review of one file.
type Result struct {
	OverallAssessment string   `json:"overall_assessment"`
	Issues            []Issue  `json:"issues"`
	PositiveNotes     []string `json:"positive_notes"`
	RawText           string   `json:"raw_text,omitempty"`
}

// Degraded reports whether the result is the unparsed-output fallback.
func (r *Result) Degraded() bool {
	return r.RawText != ""
}

// ParseError means the model answered but not in the review schema.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("review output not in expected format: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
