package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/orthoflow/orthoflow/internal/api"
	"github.com/orthoflow/orthoflow/internal/config"
	"github.com/orthoflow/orthoflow/internal/events"
	"github.com/orthoflow/orthoflow/internal/pipeline"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
	"github.com/orthoflow/orthoflow/internal/service"
	"github.com/orthoflow/orthoflow/internal/service/auth"
	"github.com/orthoflow/orthoflow/internal/task"
	"github.com/orthoflow/orthoflow/internal/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	stores   pipeline.Stores

	jwtService     auth.JWTService
	taskService    service.TaskService
	datasetHandler *api.DatasetHandler

	// scheduler is nil unless the scheduler runs in-process.
	scheduler *task.Scheduler
}

// newApplication creates a new application instance with all dependencies initialized.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized", "token_lifetime", cfg.Auth.TokenLifetime)

	app.stores, err = pipeline.NewStores(db, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	var emitter events.EventEmitter
	if cfg.Scheduler.Embedded {
		app.scheduler, err = pipeline.NewScheduler(cfg, app.stores, app.metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		inMemory := events.NewInMemoryEventEmitter(logger)
		inMemory.RegisterHandler(task.NewWakeHandler(app.scheduler, logger))
		emitter = inMemory
	}

	app.taskService, err = service.NewTaskService(db, app.stores.Datasets, app.stores.Queue, emitter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	fs := afero.NewOsFs()
	assembler := upload.NewAssembler(upload.Deps{
		Datasets: app.stores.Datasets,
		Status:   service.NewStatusManager(app.stores.Datasets, logger),
		Bounds:   pipeline.NewTools(cfg.Tools, fs),
		Fs:       fs,
		Metrics:  app.metrics,
	}, cfg.Storage.BaseDir)
	app.datasetHandler = api.NewDatasetHandler(assembler, app.taskService, logger)

	logger.Info("application initialized successfully")
	return app, nil
}

// Run serves HTTP, and the embedded scheduler when enabled, until ctx is done.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	schedulerDone := make(chan error, 1)
	if app.scheduler != nil {
		go func() { schedulerDone <- app.scheduler.Run(ctx) }()
	} else {
		close(schedulerDone)
	}

	err := app.startHTTPServer(ctx, app.setupRouter())

	if schedErr := <-schedulerDone; schedErr != nil && err == nil {
		err = fmt.Errorf("scheduler error: %w", schedErr)
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
