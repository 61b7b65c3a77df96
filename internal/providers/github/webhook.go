package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prmemory/pkg/models"
)

const (
	EventPullRequest  = "pull_request"
	EventIssueComment = "issue_comment"
	EventPing         = "ping"

	signaturePrefix = "sha256="
)

// ErrUnsupportedEvent is returned for webhook event types that never trigger a review.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// VerifySignature checks an X-Hub-Signature-256 header against the payload.
func VerifySignature(secret string, payload []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.TrimPrefix(header, signaturePrefix)), []byte(expected))
}

// Sign returns the X-Hub-Signature-256 value GitHub would send for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

type webhookUser struct {
	Login string `json:"login"`
}

type webhookRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

type webhookInstallation struct {
	ID int64 `json:"id"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number int         `json:"number"`
		User   webhookUser `json:"user"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			SHA string `json:"sha"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository   webhookRepository   `json:"repository"`
	Installation webhookInstallation `json:"installation"`
}

type issueCommentPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int             `json:"number"`
		PullRequest json.RawMessage `json:"pull_request"`
		User        webhookUser     `json:"user"`
	} `json:"issue"`
	Comment struct {
		Body string      `json:"body"`
		User webhookUser `json:"user"`
	} `json:"comment"`
	Repository   webhookRepository   `json:"repository"`
	Installation webhookInstallation `json:"installation"`
}

// WebhookEvent is a webhook delivery reduced to what triggers a review.
type WebhookEvent struct {
	Type   string
	Action string
	PR     models.PRData

	// Set for issue_comment deliveries.
	CommentBody   string
	OnPullRequest bool
}

// ParseWebhook decodes a pull_request or issue_comment delivery. The
// repository full name doubles as the scope identifier so that indexing and
// reviews of the same repository share stored context.
func ParseWebhook(eventType string, body []byte) (*WebhookEvent, error) {
	switch eventType {
	case EventPullRequest:
		var p pullRequestPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parse pull_request webhook: %w", err)
		}
		number := p.Number
		if number == 0 {
			number = p.PullRequest.Number
		}
		return &WebhookEvent{
			Type:   eventType,
			Action: p.Action,
			PR: models.PRData{
				PRNumber:       number,
				Repository:     p.Repository.FullName,
				RepositoryID:   p.Repository.FullName,
				InstallationID: p.Installation.ID,
				Author:         p.PullRequest.User.Login,
				HeadSHA:        p.PullRequest.Head.SHA,
				BaseSHA:        p.PullRequest.Base.SHA,
			},
		}, nil

	case EventIssueComment:
		var p issueCommentPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("parse issue_comment webhook: %w", err)
		}
		onPR := len(p.Issue.PullRequest) > 0 && string(p.Issue.PullRequest) != "null"
		return &WebhookEvent{
			Type:   eventType,
			Action: p.Action,
			PR: models.PRData{
				PRNumber:       p.Issue.Number,
				Repository:     p.Repository.FullName,
				RepositoryID:   p.Repository.FullName,
				InstallationID: p.Installation.ID,
				Author:         p.Issue.User.Login,
				Commenter:      p.Comment.User.Login,
			},
			CommentBody:   p.Comment.Body,
			OnPullRequest: onPR,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

// TriggersReview reports whether a pull_request action should start a review.
func TriggersReview(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened":
		return true
	}
	return false
}
