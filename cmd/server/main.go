// Package main implements the orthoflow API server, which accepts chunked
// raster uploads and queues processing tasks for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/orthoflow/orthoflow/internal/config"
	"github.com/orthoflow/orthoflow/internal/pipeline"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/platform/postgres"
)

func main() {
	migrate := flag.String("migrate", "",
		"run a migration command ("+strings.Join(postgres.MigrationCommands, ", ")+") and exit")
	flag.Parse()

	if err := run(*migrate); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"table_prefix", cfg.Database.TablePrefix,
		"embedded_scheduler", cfg.Scheduler.Embedded,
		"dev_mode", cfg.DevMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pipeline.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	l.Info("database connection established")

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		tables, err := postgres.NewTables(cfg.Database.TablePrefix)
		if err != nil {
			return err
		}
		return postgres.Migrate(ctx, db, tables, migrateCmd)
	}

	app, err := newApplication(cfg, l, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
