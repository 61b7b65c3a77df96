package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	ghprovider "github.com/prmemory/internal/providers/github"
)

const maxWebhookBody = 10 << 20

func ignored(c echo.Context, reason string) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ignored", "reason": reason})
}

// githubWebhook verifies and normalises a GitHub delivery and enqueues a
// review when the event asks for one.
func (s *Server) githubWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read body")
	}

	if !ghprovider.VerifySignature(s.opts.WebhookSecret, body, c.Request().Header.Get("X-Hub-Signature-256")) {
		log.Warn().Msg("Rejected webhook with invalid signature")
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature")
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	if eventType == ghprovider.EventPing {
		return c.JSON(http.StatusOK, map[string]string{"status": "pong"})
	}

	event, err := ghprovider.ParseWebhook(eventType, body)
	if err != nil {
		if errors.Is(err, ghprovider.ErrUnsupportedEvent) {
			return ignored(c, "unsupported event")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid payload")
	}

	logger := log.With().
		Str("event", event.Type).
		Str("action", event.Action).
		Str("repository", event.PR.Repository).
		Int("pr_number", event.PR.PRNumber).
		Logger()

	switch event.Type {
	case ghprovider.EventPullRequest:
		if !s.opts.AutoReviewEnabled {
			return ignored(c, "auto review disabled")
		}
		if !ghprovider.TriggersReview(event.Action) {
			return ignored(c, "action does not trigger a review")
		}
	case ghprovider.EventIssueComment:
		if event.Action != "created" || !event.OnPullRequest {
			return ignored(c, "not a new pull request comment")
		}
		if !ghprovider.IsReviewCommand(event.CommentBody, s.opts.ReviewCommand) {
			return ignored(c, "not a review command")
		}
	}

	logger.Info().Msg("Webhook triggered review")
	return s.enqueue(c, event.PR)
}
