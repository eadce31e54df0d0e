// Package command builds the clawgated CLI. The runners are injected so
// the command tree is testable without starting a daemon.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

// RunOptions carries the global flags down to a runner.
type RunOptions struct {
	ConfigDir string
	DBPath    string
	LogLevel  string
}

type Deps struct {
	Version      string
	RunServe     func(context.Context, RunOptions) error
	RunMigrateUp func(context.Context, RunOptions) error
}

func BuildApp(deps Deps) *cli.App {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "config-dir",
			Usage: "directory holding config.toml and the daemon database",
			Value: defaultConfigDir(),
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "database path (defaults to <config-dir>/clawgate.db)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn, or error",
			Value: "info",
		},
	}
	return &cli.App{
		Name:  "clawgated",
		Usage: "local bridge between coding agents, the chat desktop app, and tmux panes",
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			return runServe(ctx, deps)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the daemon",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx, deps)
				},
			},
			{
				Name:  "migrate",
				Usage: "database maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							if deps.RunMigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.RunMigrateUp(ctx.Context, optionsFrom(ctx))
						},
					},
				},
			},
			{
				Name:  "version",
				Usage: "print the daemon version",
				Action: func(ctx *cli.Context) error {
					_, err := fmt.Fprintln(ctx.App.Writer, deps.Version)
					return err
				},
			},
		},
	}
}

func runServe(ctx *cli.Context, deps Deps) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx.Context, optionsFrom(ctx))
}

func optionsFrom(ctx *cli.Context) RunOptions {
	return RunOptions{
		ConfigDir: ctx.String("config-dir"),
		DBPath:    ctx.String("db"),
		LogLevel:  ctx.String("log-level"),
	}
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawgate"
	}
	return filepath.Join(home, ".clawgate")
}
