package redact

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Redactor masks secrets in diff text before it is sent to a language model.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New loads the default gitleaks rule set.
func New() (*Redactor, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load secret rules: %w", err)
	}
	return &Redactor{detector: d}, nil
}

// Redact returns text with every detected secret replaced by a
// "[REDACTED:<rule>]" marker and the number of distinct secrets replaced.
// A nil Redactor returns the text unchanged.
func (r *Redactor) Redact(text string) (string, int) {
	if r == nil || text == "" {
		return text, 0
	}

	r.mu.Lock()
	findings := r.detector.DetectString(text)
	r.mu.Unlock()

	replacements := make(map[string]string)
	for _, f := range findings {
		if strings.TrimSpace(f.Secret) == "" {
			continue
		}
		if _, ok := replacements[f.Secret]; !ok {
			replacements[f.Secret] = "[REDACTED:" + f.RuleID + "]"
		}
	}
	if len(replacements) == 0 {
		return text, 0
	}

	// Longest first so a secret containing another is masked whole.
	secrets := make([]string, 0, len(replacements))
	for s := range replacements {
		secrets = append(secrets, s)
	}
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	for _, s := range secrets {
		text = strings.ReplaceAll(text, s, replacements[s])
	}

	log.Debug().Int("secrets", len(secrets)).Msg("Redacted secrets from diff")
	return text, len(secrets)
}
