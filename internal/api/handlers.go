package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/jobqueue"
	ghprovider "github.com/prmemory/internal/providers/github"
	"github.com/prmemory/pkg/models"
)

// defaultCommenter is recorded for command triggers that do not name a user.
const defaultCommenter = "github-actions"

type reviewRequest struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	PRNumber       int    `json:"pr_number"`
	InstallationID int64  `json:"installation_id"`
}

type reviewCommandRequest struct {
	reviewRequest
	CommentBody string `json:"comment_body"`
	Commenter   string `json:"commenter"`
}

type indexRequest struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	InstallationID int64  `json:"installation_id"`
}

type queuedResponse struct {
	Status   string `json:"status"`
	TaskID   string `json:"task_id"`
	PRNumber int    `json:"pr_number,omitempty"`
}

func (r reviewRequest) prData() (models.PRData, error) {
	if r.Owner == "" || r.Repo == "" {
		return models.PRData{}, errors.New("owner and repo are required")
	}
	if r.PRNumber <= 0 {
		return models.PRData{}, errors.New("pr_number must be positive")
	}
	full := r.Owner + "/" + r.Repo
	return models.PRData{
		PRNumber:       r.PRNumber,
		Repository:     full,
		RepositoryID:   full,
		InstallationID: r.InstallationID,
	}, nil
}

// requireAPIToken checks the bearer token against the configured secret.
func (s *Server) requireAPIToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
		}
		if s.opts.APISecretKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APISecretKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid API token")
		}
		return next(c)
	}
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

func (s *Server) health(c echo.Context) error {
	resp := map[string]string{
		"status":   "healthy",
		"database": "connected",
		"queue":    "running",
	}
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request().Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			resp["status"] = "unhealthy"
			resp["database"] = "disconnected"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) triggerReview(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	pr, err := req.prData()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	log.Info().Str("repository", pr.Repository).Int("pr_number", pr.PRNumber).Msg("Review requested")
	return s.enqueue(c, pr)
}

func (s *Server) triggerReviewCommand(c echo.Context) error {
	var req reviewCommandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	pr, err := req.prData()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if !ghprovider.IsReviewCommand(req.CommentBody, s.opts.ReviewCommand) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("comment must start with %s", s.opts.ReviewCommand))
	}

	pr.Commenter = req.Commenter
	if pr.Commenter == "" {
		pr.Commenter = defaultCommenter
	}

	log.Info().Str("repository", pr.Repository).Int("pr_number", pr.PRNumber).Str("commenter", pr.Commenter).Msg("Manual review requested")
	return s.enqueue(c, pr)
}

func (s *Server) triggerIndex(c echo.Context) error {
	var req indexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Owner == "" || req.Repo == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "owner and repo are required")
	}
	full := req.Owner + "/" + req.Repo

	taskID, err := s.queue.EnqueueIndex(c.Request().Context(), jobqueue.IndexArgs{
		Repository:     full,
		RepositoryID:   full,
		InstallationID: req.InstallationID,
	})
	if err != nil {
		log.Error().Err(err).Str("repository", full).Msg("Failed to enqueue index job")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to enqueue task")
	}
	return c.JSON(http.StatusOK, queuedResponse{Status: "queued", TaskID: taskID})
}

func (s *Server) enqueue(c echo.Context, pr models.PRData) error {
	taskID, err := s.queue.EnqueueReview(c.Request().Context(), pr)
	if err != nil {
		log.Error().Err(err).Str("repository", pr.Repository).Int("pr_number", pr.PRNumber).Msg("Failed to enqueue review")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to enqueue task")
	}
	log.Info().Str("task_id", taskID).Msg("Enqueued PR review task")
	return c.JSON(http.StatusOK, queuedResponse{Status: "queued", TaskID: taskID, PRNumber: pr.PRNumber})
}

func (s *Server) taskStatus(c echo.Context) error {
	st, err := s.queue.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobqueue.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Task not found")
		}
		log.Error().Err(err).Str("task_id", c.Param("id")).Msg("Failed to load task status")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load task status")
	}
	return c.JSON(http.StatusOK, st)
}
