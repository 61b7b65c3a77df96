package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// Hunk is one "@@ -a,b +c,d @@" section of a unified diff patch.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Header   string
	Lines    []string
}

// Counts are optional in hunk headers ("@@ -1 +1 @@" means a count of one).
var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseHunks splits a per-file patch, as returned by the code host's files
// endpoint, into hunks. Text before the first header is ignored.
func ParseHunks(patch string) []Hunk {
	if patch == "" {
		return nil
	}

	var hunks []Hunk
	var cur *Hunk
	for _, ln := range strings.Split(patch, "\n") {
		if m := hunkHeader.FindStringSubmatch(ln); m != nil {
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			cur = &Hunk{
				OldStart: atoi(m[1]),
				OldCount: countOrOne(m[2]),
				NewStart: atoi(m[3]),
				NewCount: countOrOne(m[4]),
				Header:   ln,
			}
			continue
		}
		if cur != nil {
			cur.Lines = append(cur.Lines, ln)
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	return hunks
}

// CommentableLines returns the new-side line numbers an inline review comment
// can be anchored to: added lines and context lines inside a hunk.
func CommentableLines(patch string) map[int]bool {
	lines := make(map[int]bool)
	for _, h := range ParseHunks(patch) {
		newN := h.NewStart
		for _, ln := range h.Lines {
			if ln == "" {
				continue
			}
			switch ln[0] {
			case '+', ' ':
				lines[newN] = true
				newN++
			case '-', '\\':
			default:
				newN++
			}
		}
	}
	return lines
}

// ChangedLineCount counts added and removed lines across all hunks.
func ChangedLineCount(patch string) (added, removed int) {
	for _, h := range ParseHunks(patch) {
		for _, ln := range h.Lines {
			if ln == "" {
				continue
			}
			switch ln[0] {
			case '+':
				added++
			case '-':
				removed++
			}
		}
	}
	return added, removed
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func countOrOne(s string) int {
	if s == "" {
		return 1
	}
	return atoi(s)
}
