package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/prmemory/internal/api"
	"github.com/prmemory/internal/database"
	"github.com/prmemory/internal/jobqueue"
)

// ServeCommand returns the command that runs the API server and the job workers
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server and the review workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Only accept triggers; leave jobs to other processes",
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply database migrations before starting",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if p := c.Int("port"); p > 0 {
		cfg.Server.Port = p
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Bool("migrate") {
		if err := applyMigrations(ctx, db, cfg.Database.URL, cfg.Embedding.Dimension); err != nil {
			return err
		}
	}

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	qcfg := jobqueue.QueueConfigFrom(cfg.Queue)
	var queue *jobqueue.Queue
	if c.Bool("no-workers") {
		queue, err = jobqueue.NewQueue(d.pool, qcfg, nil, nil)
	} else {
		queue, err = jobqueue.NewQueue(d.pool, qcfg, d.orchestrator, d.indexer)
	}
	if err != nil {
		return err
	}

	if !c.Bool("no-workers") {
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
		log.Info().Int("max_workers", qcfg.MaxWorkers).Msg("Review workers started")
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Workers did not stop cleanly")
			}
		}()
	}

	server := api.NewServer(api.Options{
		Port:              cfg.Server.Port,
		APISecretKey:      cfg.Server.APISecretKey,
		WebhookSecret:     cfg.GitHub.WebhookSecret,
		AutoReviewEnabled: cfg.Review.AutoReviewEnabled,
		ReviewCommand:     cfg.Review.ReviewCommand,
		Health:            dbHealth(db),
	}, queue)

	return server.Start(ctx)
}

func dbHealth(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return database.Health(ctx, db)
	}
}
