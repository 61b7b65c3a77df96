package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats describes what RepairJSON had to do.
type RepairStats struct {
	OriginalBytes    int           `json:"original_bytes"`
	RepairedBytes    int           `json:"repaired_bytes"`
	RepairTime       time.Duration `json:"repair_time"`
	RepairStrategies []string      `json:"repair_strategies"`
	WasRepaired      bool          `json:"was_repaired"`
}

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// RepairJSON turns almost-JSON from a model into valid JSON. Strategies run in order:
//  1. the jsonrepair library (quotes, comments, missing commas, truncation)
//  2. closing unbalanced braces and brackets, then trailing-comma removal
//  3. the jsonrepair library again on the result of step 2
func RepairJSON(raw string) (repaired string, stats RepairStats, err error) {
	start := time.Now()
	stats.OriginalBytes = len(raw)
	defer func() {
		stats.RepairedBytes = len(repaired)
		stats.RepairTime = time.Since(start)
	}()

	if json.Valid([]byte(raw)) {
		return raw, stats, nil
	}
	stats.WasRepaired = true

	if out, libErr := jsonrepair.JSONRepair(raw); libErr == nil && json.Valid([]byte(out)) {
		stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")
		return out, stats, nil
	}

	repaired = raw
	if completed := completeJSON(repaired); completed != repaired {
		repaired = completed
		stats.RepairStrategies = append(stats.RepairStrategies, "completion")
	}
	if cleaned := removeTrailingCommas(repaired); cleaned != repaired {
		repaired = cleaned
		stats.RepairStrategies = append(stats.RepairStrategies, "trailing_commas")
	}
	if json.Valid([]byte(repaired)) {
		return repaired, stats, nil
	}

	if out, libErr := jsonrepair.JSONRepair(repaired); libErr == nil && json.Valid([]byte(out)) {
		stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")
		return out, stats, nil
	}

	return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.RepairStrategies))
}

func removeTrailingCommas(s string) string {
	s = trailingCommaObject.ReplaceAllString(s, "}")
	return trailingCommaArray.ReplaceAllString(s, "]")
}

// completeJSON closes an unterminated string and any open structures, innermost first.
func completeJSON(s string) string {
	s = strings.TrimSpace(s)

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
