package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoJSON is returned when a response contains nothing that looks like JSON.
var ErrNoJSON = errors.New("no JSON found in response")

// DecodeResponse extracts the JSON object from a model response, repairs it if
// needed and decodes it into target. It reports whether a repair was applied.
func DecodeResponse(raw string, target any) (bool, error) {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		return false, ErrNoJSON
	}

	repaired, stats, err := RepairJSON(jsonStr)
	if err != nil {
		log.Debug().Err(err).
			Str("json", truncateForLog(jsonStr, 500)).
			Msg("JSON repair failed")
		return stats.WasRepaired, err
	}
	if stats.WasRepaired {
		log.Debug().
			Strs("strategies", stats.RepairStrategies).
			Int("original_bytes", stats.OriginalBytes).
			Int("repaired_bytes", stats.RepairedBytes).
			Dur("repair_time", stats.RepairTime).
			Msg("JSON repair applied")
	}

	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats.WasRepaired, fmt.Errorf("JSON parsing failed after repair: %w", err)
	}
	return stats.WasRepaired, nil
}

// ExtractJSON pulls the JSON payload out of a response that may wrap it in a
// fenced code block or surround it with prose.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var jsonLines []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inBlock {
					break
				}
				inBlock = true
				continue
			}
			if inBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		if block := strings.TrimSpace(strings.Join(jsonLines, "\n")); block != "" {
			return block
		}
	}

	startIdx := strings.IndexAny(raw, "{[")
	if startIdx == -1 {
		return ""
	}
	if end := matchingClose(raw, startIdx); end != -1 {
		return raw[startIdx : end+1]
	}
	return raw[startIdx:]
}

// matchingClose returns the index closing the structure opened at start,
// ignoring brackets inside string literals, or -1.
func matchingClose(s string, start int) int {
	open := s[start]
	closeChar := byte('}')
	if open == '[' {
		closeChar = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case open:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
