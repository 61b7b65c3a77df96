package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/prmemory/internal/database"
	"github.com/prmemory/internal/jobqueue"
)

// MigrateCommand returns the command that applies the database schema
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply the application and job queue schema",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.NewDB(c.Context, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := applyMigrations(c.Context, db, cfg.Database.URL, cfg.Embedding.Dimension); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}

// applyMigrations creates the vector tables first so that the pgvector types
// exist when the pool used for River registers them.
func applyMigrations(ctx context.Context, db *sql.DB, dbURL string, dimension int) error {
	if err := database.Migrate(ctx, db, dimension); err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, dbURL, 2)
	if err != nil {
		return err
	}
	defer pool.Close()

	return jobqueue.Migrate(ctx, pool)
}
