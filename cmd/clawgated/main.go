package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"clawgate/internal/claw"
	"clawgate/internal/command"
	"clawgate/internal/db"
	"clawgate/internal/logging"
	"clawgate/internal/runtime"
)

func main() {
	app := command.BuildApp(command.Deps{
		Version:      claw.Version,
		RunServe:     runServe,
		RunMigrateUp: runMigrateUp,
	})
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "clawgated:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, opts command.RunOptions) error {
	logger := logging.NewLogger(logging.Options{
		Level:     opts.LogLevel,
		Component: "clawgated",
	})
	daemon, err := runtime.Start(ctx, runtime.Options{
		ConfigDir: opts.ConfigDir,
		DBPath:    opts.DBPath,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return daemon.Run(ctx, os.Interrupt, syscall.SIGTERM)
}

func runMigrateUp(_ context.Context, opts command.RunOptions) error {
	path := strings.TrimSpace(opts.DBPath)
	if path == "" {
		path = filepath.Join(opts.ConfigDir, "clawgate.db")
	}
	// Open applies migrations on the way in.
	gdb, err := db.Open(path)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
