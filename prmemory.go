package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/prmemory/cmd"
)

const (
	version = "2.0.0"
)

func main() {
	app := &cli.App{
		Name:    "prmemory",
		Usage:   "Pull request review bot with persistent per-repository memory",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "prmemory.toml",
				EnvVars: []string{"PRMEMORY_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.ReviewCommand(),
			cmd.IndexCommand(),
			cmd.MigrateCommand(),
			cmd.TaskCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
