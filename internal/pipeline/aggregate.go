package pipeline

import (
	"fmt"
	"strings"

	"github.com/prmemory/internal/diff"
	"github.com/prmemory/internal/review"
	"github.com/prmemory/pkg/models"
)

const noIssuesAssessment = "No issues found"

// fileReview is the generator output for one reviewed file.
type fileReview struct {
	file   models.PRFile
	result *review.Result
}

// commentBody renders one issue as a review comment.
func commentBody(issue review.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: %s\n\n", strings.ToUpper(string(issue.Severity)), issue.Description)
	if issue.Suggestion != nil && *issue.Suggestion != "" {
		fmt.Fprintf(&b, "💡 **Suggestion**: %s", *issue.Suggestion)
	}
	return b.String()
}

// buildComments flattens issues in file order. A line survives only when the
// file's patch can carry an inline comment there.
func buildComments(reviews []fileReview) []models.ReviewComment {
	var comments []models.ReviewComment
	for _, fr := range reviews {
		commentable := diff.CommentableLines(fr.file.Patch)
		for _, issue := range fr.result.Issues {
			c := models.ReviewComment{Path: fr.file.Filename, Body: commentBody(issue)}
			if issue.Line != nil && commentable[*issue.Line] {
				line := *issue.Line
				c.Line = &line
			}
			comments = append(comments, c)
		}
	}
	return comments
}

// buildSummary renders the Markdown review summary. overview is omitted when empty.
func buildSummary(reviews []fileReview, overview string) string {
	parts := []string{"## 🤖 AI Code Review\n"}

	if overview != "" {
		parts = append(parts, "### Overview", overview, "")
	}

	for _, fr := range reviews {
		parts = append(parts, fmt.Sprintf("### 📄 %s", fr.file.Filename))

		assessment := fr.result.OverallAssessment
		if assessment == "" {
			assessment = noIssuesAssessment
		}
		parts = append(parts, assessment)

		if len(fr.result.PositiveNotes) > 0 {
			parts = append(parts, "\n✅ **Good practices:**")
			for _, note := range fr.result.PositiveNotes {
				parts = append(parts, "- "+note)
			}
		}
		parts = append(parts, "")
	}

	return strings.Join(parts, "\n")
}

func hasInline(comments []models.ReviewComment) bool {
	for _, c := range comments {
		if c.Line != nil {
			return true
		}
	}
	return false
}
