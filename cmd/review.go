package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/prmemory/internal/jobqueue"
	"github.com/prmemory/pkg/models"
)

var installationFlag = &cli.Int64Flag{
	Name:     "installation-id",
	Aliases:  []string{"i"},
	Usage:    "GitHub App installation id for the repository",
	Required: true,
}

var queueFlag = &cli.BoolFlag{
	Name:  "queue",
	Usage: "Enqueue a job instead of running in this process",
}

// ReviewCommand returns the review command
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "review",
		Usage:     "Review a pull request",
		ArgsUsage: "OWNER/REPO PR_NUMBER",
		Flags: []cli.Flag{
			installationFlag,
			queueFlag,
			&cli.StringFlag{
				Name:  "commenter",
				Usage: "Record the review against this user instead of the PR author",
			},
		},
		Action: runReview,
	}
}

func runReview(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("missing required arguments: OWNER/REPO PR_NUMBER")
	}
	repository := c.Args().Get(0)
	prNumber, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid PR number %q", c.Args().Get(1))
	}

	pr := models.PRData{
		PRNumber:       prNumber,
		Repository:     repository,
		RepositoryID:   repository,
		InstallationID: c.Int64("installation-id"),
		Commenter:      c.String("commenter"),
	}
	if err := pr.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	d, err := buildDeps(c.Context, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if c.Bool("queue") {
		queue, err := jobqueue.NewQueue(d.pool, jobqueue.QueueConfigFrom(cfg.Queue), nil, nil)
		if err != nil {
			return err
		}
		taskID, err := queue.EnqueueReview(c.Context, pr)
		if err != nil {
			return err
		}
		fmt.Printf("Queued review of %s#%d as task %s\n", repository, prNumber, taskID)
		return nil
	}

	result, err := d.orchestrator.Run(c.Context, pr)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// IndexCommand returns the command that indexes a repository for retrieval
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Index a repository's source files for review context",
		ArgsUsage: "OWNER/REPO",
		Flags:     []cli.Flag{installationFlag, queueFlag},
		Action:    runIndex,
	}
}

func runIndex(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: OWNER/REPO")
	}
	repository := c.Args().Get(0)
	if _, _, err := models.SplitRepository(repository); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	d, err := buildDeps(c.Context, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if c.Bool("queue") {
		queue, err := jobqueue.NewQueue(d.pool, jobqueue.QueueConfigFrom(cfg.Queue), nil, nil)
		if err != nil {
			return err
		}
		taskID, err := queue.EnqueueIndex(c.Context, jobqueue.IndexArgs{
			Repository:     repository,
			RepositoryID:   repository,
			InstallationID: c.Int64("installation-id"),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Queued indexing of %s as task %s\n", repository, taskID)
		return nil
	}

	result, err := d.indexer.IndexRepository(c.Context, repository, repository, c.Int64("installation-id"))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
