// Package api exposes the HTTP trigger surface: health checks, authenticated
// review triggers, the GitHub webhook receiver and task status.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/prmemory/internal/jobqueue"
	"github.com/prmemory/pkg/models"
)

const (
	serviceName    = "Persistent Memory PR Review Bot"
	serviceVersion = "2.0.0"
)

// TaskQueue is the part of the job queue the API depends on.
type TaskQueue interface {
	EnqueueReview(ctx context.Context, pr models.PRData) (string, error)
	EnqueueIndex(ctx context.Context, args jobqueue.IndexArgs) (string, error)
	Status(ctx context.Context, taskID string) (*jobqueue.TaskStatus, error)
}

// Options configures the trigger surface.
type Options struct {
	Port              int
	APISecretKey      string
	WebhookSecret     string
	AutoReviewEnabled bool
	ReviewCommand     string

	// Health reports database reachability; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	echo  *echo.Echo
	opts  Options
	queue TaskQueue
}

// NewServer creates a new API server
func NewServer(opts Options, queue TaskQueue) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	s := &Server{echo: e, opts: opts, queue: queue}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.root)
	s.echo.GET("/health", s.health)

	authed := s.echo.Group("/api", s.requireAPIToken)
	authed.POST("/review", s.triggerReview)
	authed.POST("/review/command", s.triggerReviewCommand)
	authed.POST("/index", s.triggerIndex)

	s.echo.POST("/webhooks/github", s.githubWebhook)
	s.echo.GET("/task/:id", s.taskStatus)
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.opts.Port)
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
