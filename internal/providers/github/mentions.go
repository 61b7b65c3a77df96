package github

import "strings"

// IsReviewCommand reports whether a comment body asks for a review. The
// command must open the comment; matching is case-insensitive and the command
// must be followed by whitespace or the end of the body.
func IsReviewCommand(commentBody, command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}

	body := strings.TrimSpace(commentBody)
	if len(body) < len(command) || !strings.EqualFold(body[:len(command)], command) {
		return false
	}
	rest := body[len(command):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t' || rest[0] == '\r'
}
