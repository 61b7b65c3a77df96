package llm

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	validJSON := `{"overall_assessment": "Looks fine", "issues": [], "positive_notes": ["tests"]}`

	repaired, stats, err := RepairJSON(validJSON)

	if err != nil {
		t.Errorf("Expected no error for valid JSON, got: %v", err)
	}

	if stats.WasRepaired {
		t.Error("Expected WasRepaired to be false for valid JSON")
	}

	if repaired != validJSON {
		t.Error("Expected repaired JSON to be identical to original for valid JSON")
	}

	if stats.OriginalBytes != len(validJSON) || stats.RepairedBytes != len(validJSON) {
		t.Error("Expected byte counts to match original")
	}
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	malformedJSON := `{"issues": [{"line": 10, "severity": "minor",}],}`

	repaired, stats, err := RepairJSON(malformedJSON)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !stats.WasRepaired {
		t.Error("Expected WasRepaired to be true")
	}

	var result struct {
		Issues []struct {
			Line     int    `json:"line"`
			Severity string `json:"severity"`
		} `json:"issues"`
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		t.Fatalf("Repaired JSON should be valid: %v", err)
	}
	if len(result.Issues) != 1 || result.Issues[0].Line != 10 {
		t.Errorf("Unexpected repaired content: %s", repaired)
	}
}

func TestRepairJSON_TruncatedResponse(t *testing.T) {
	// A response cut off by the token budget
	malformedJSON := `{"overall_assessment": "Mostly good", "issues": [{"line": 3, "severity": "major", "description": "nil map wr`

	repaired, stats, err := RepairJSON(malformedJSON)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !stats.WasRepaired || len(stats.RepairStrategies) == 0 {
		t.Error("Expected a recorded repair strategy")
	}

	var result map[string]interface{}
	if json.Unmarshal([]byte(repaired), &result) != nil {
		t.Fatal("Repaired JSON should be valid")
	}
	if result["overall_assessment"] != "Mostly good" {
		t.Errorf("Expected assessment to survive repair, got %v", result["overall_assessment"])
	}
}

func TestRepairJSON_KeepsURLsAndApostrophes(t *testing.T) {
	malformedJSON := `{"description": "Don't hardcode https://example.com/api", "line": 4,}`

	repaired, _, err := RepairJSON(malformedJSON)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		t.Fatalf("Repaired JSON should be valid: %v", err)
	}
	if result["description"] != "Don't hardcode https://example.com/api" {
		t.Errorf("Description was mangled: %v", result["description"])
	}
}

func TestRepairJSON_UnquotedKeysAndSingleQuotes(t *testing.T) {
	malformedJSON := `{overall_assessment: 'ok', issues: []}`

	repaired, stats, err := RepairJSON(malformedJSON)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected WasRepaired to be true")
	}

	var result map[string]interface{}
	if json.Unmarshal([]byte(repaired), &result) != nil {
		t.Fatal("Repaired JSON should be valid")
	}
	if result["overall_assessment"] != "ok" {
		t.Errorf("Expected overall_assessment=ok, got %v", result["overall_assessment"])
	}
}

func TestCompleteJSON_IgnoresBracesInStrings(t *testing.T) {
	got := completeJSON(`{"description": "use a map[string]{} here", "issues": [`)
	want := `{"description": "use a map[string]{} here", "issues": []}`
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestRepairJSON_Performance(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"issues": [`)
	for i := 0; i < 200; i++ {
		b.WriteString(`{"line": 1, "severity": "minor", "description": "something to fix"},`)
	}
	b.WriteString(`]}`)

	start := time.Now()
	_, _, err := RepairJSON(b.String())
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Repair took too long: %v", elapsed)
	}
}
