package github

import "fmt"

// CodeHostError reports a failed GitHub API call. StatusCode is zero when the
// request never got a response.
type CodeHostError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *CodeHostError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("github %s failed: %v", e.Op, e.Err)
}

func (e *CodeHostError) Unwrap() error { return e.Err }
