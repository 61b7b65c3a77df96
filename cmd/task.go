package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/prmemory/internal/database"
	"github.com/prmemory/internal/jobqueue"
)

// TaskCommand returns the command for inspecting queued jobs
func TaskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Inspect queued review and indexing tasks",
		Subcommands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "Print the status and result of a task",
				ArgsUsage: "TASK_ID",
				Action:    runTaskStatus,
			},
		},
	}
}

func runTaskStatus(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: TASK_ID")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	pool, err := database.NewPool(c.Context, cfg.Database.URL, 2)
	if err != nil {
		return err
	}
	defer pool.Close()

	queue, err := jobqueue.NewQueue(pool, jobqueue.QueueConfigFrom(cfg.Queue), nil, nil)
	if err != nil {
		return err
	}

	st, err := queue.Status(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}
	return printJSON(st)
}
