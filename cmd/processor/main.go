// Package main implements the orthoflow processor. It polls the task queue
// and runs conversion, cog, thumbnail and segmentation tasks. With -once it
// makes a single dispatch decision, waits for the dispatched task and exits,
// which suits cron-style invocation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/orthoflow/orthoflow/internal/config"
	"github.com/orthoflow/orthoflow/internal/pipeline"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
)

// runner is the part of the scheduler main drives.
type runner interface {
	RunOnce(ctx context.Context) error
	Run(ctx context.Context) error
}

func main() {
	once := flag.Bool("once", false, "poll the queue once, wait for the dispatched task and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		slog.Error("processor exited with error", "error", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, l)

	db, err := pipeline.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	stores, err := pipeline.NewStores(db, cfg.Database, l)
	if err != nil {
		return err
	}
	reg := newRegistry()
	sched, err := pipeline.NewScheduler(cfg, stores, metrics.New(reg), l)
	if err != nil {
		return err
	}

	// A single -once pass ends before anything could scrape it.
	if !once {
		ln, err := listenMetrics(cfg.Scheduler.MetricsPort)
		if err != nil {
			return err
		}
		if ln != nil {
			go serveMetrics(ctx, ln, reg, l)
		}
	}

	l.Info("processor starting",
		"once", once,
		"concurrency", cfg.Scheduler.Concurrency,
		"remote_driver", cfg.Remote.Driver,
		"dev_mode", cfg.DevMode)
	return drive(ctx, sched, once)
}

func drive(ctx context.Context, r runner, once bool) error {
	if once {
		return r.RunOnce(ctx)
	}
	return r.Run(ctx)
}
