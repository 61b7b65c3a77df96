package review

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert code reviewer with deep knowledge of software engineering best practices.
Your role is to provide constructive, actionable feedback on pull requests.

Focus on:
- Code quality and maintainability
- Potential bugs and edge cases
- Security vulnerabilities
- Performance issues
- Best practices and patterns
- Documentation and comments

Provide specific, line-level suggestions when possible.
Be constructive and educational in your feedback.`

const outputInstructions = `

Please provide a detailed review with:
1. Overall assessment
2. Specific issues or concerns (with line numbers if applicable)
3. Suggestions for improvement
4. Positive observations

Format your response as JSON with the following structure:
{
  "overall_assessment": "Brief summary",
  "issues": [
    {
      "line": number or null,
      "severity": "critical|major|minor|suggestion",
      "description": "Issue description",
      "suggestion": "How to fix"
    }
  ],
  "positive_notes": ["List of good practices observed"]
}
`

// buildReviewPrompt renders the user instruction for one file.
func buildReviewPrompt(diff, filePath, codeContext, userMemory string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the following code changes:\n\nFile: %s\n\nCode Diff:\n```\n%s\n```\n", filePath, diff)

	if codeContext != "" {
		fmt.Fprintf(&b, "\n\nRelevant codebase context:\n%s", codeContext)
	}
	if userMemory != "" {
		fmt.Fprintf(&b, "\n\nUser preferences and history:\n%s", userMemory)
	}

	b.WriteString(outputInstructions)
	return b.String()
}

func buildSummaryPrompt(title, description string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this pull request:\n\nTitle: %s\nDescription: %s\n\nFiles changed:\n", title, description)
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\nProvide a concise summary of what this PR does and its potential impact.\n")
	return b.String()
}
