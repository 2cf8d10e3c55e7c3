package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/orthoflow/orthoflow/internal/config"
	"github.com/orthoflow/orthoflow/internal/platform/gdal"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
	"github.com/orthoflow/orthoflow/internal/platform/postgres"
	"github.com/orthoflow/orthoflow/internal/service"
	"github.com/orthoflow/orthoflow/internal/service/auth"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/orthoflow/orthoflow/internal/task"
	"github.com/orthoflow/orthoflow/internal/transfer"
	"github.com/spf13/afero"
)

// Stores groups the persistence layer of one table set.
type Stores struct {
	Tables   postgres.Tables
	Datasets store.DatasetStore
	Queue    store.QueueStore
	Products store.ProductStore
	Labels   store.LabelStore
}

// OpenDB opens and pings the metadata database.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewStores creates the postgres stores for the configured table prefix.
func NewStores(db *sql.DB, cfg config.DatabaseConfig, logger *slog.Logger) (Stores, error) {
	tables, err := postgres.NewTables(cfg.TablePrefix)
	if err != nil {
		return Stores{}, err
	}
	return Stores{
		Tables:   tables,
		Datasets: postgres.NewPostgresDatasetStore(db, tables, logger),
		Queue:    postgres.NewPostgresQueueStore(db, tables, logger),
		Products: postgres.NewPostgresProductStore(db, tables, logger),
		Labels:   postgres.NewPostgresLabelStore(db, tables),
	}, nil
}

// NewDialer returns the remote store dialer selected by cfg.Driver.
func NewDialer(cfg config.RemoteConfig) (transfer.Dialer, error) {
	switch cfg.Driver {
	case "local":
		return transfer.NewLocalDialer(cfg.LocalRoot), nil
	case "sftp":
		d, err := transfer.NewSFTPDialer(transfer.SFTPConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			User:       cfg.User,
			KeyPath:    cfg.KeyPath,
			Passphrase: cfg.Passphrase,
			KnownHosts: cfg.KnownHosts,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
}

// NewTools creates the raster tool chain running real executables on fs.
func NewTools(cfg config.ToolsConfig, fs afero.Fs) *gdal.Tools {
	return gdal.NewTools(gdal.ExecRunner{}, fs, gdal.Paths{
		Gdalwarp:      cfg.Gdalwarp,
		GdalTranslate: cfg.GdalTranslate,
		Gdalinfo:      cfg.Gdalinfo,
		Gdaltransform: cfg.Gdaltransform,
		Segmentation:  cfg.Segmentation,
	}, cfg.Threads)
}

// Credentials creates the processor's own token source.
func Credentials(cfg config.AuthConfig) (*auth.CredentialProvider, error) {
	jwt, err := auth.NewJWTService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	userID, err := uuid.Parse(cfg.ProcessorUserID)
	if err != nil {
		return nil, fmt.Errorf("invalid processor user id: %w", err)
	}
	return auth.NewCredentialProvider(jwt, userID), nil
}

// NewScheduler wires a processor and its scheduler over stores.
func NewScheduler(cfg *config.Config, stores Stores, m *metrics.Metrics, logger *slog.Logger) (*task.Scheduler, error) {
	dialer, err := NewDialer(cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote dialer: %w", err)
	}
	creds, err := Credentials(cfg.Auth)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	status := service.NewStatusManager(stores.Datasets, logger)
	proc := task.NewProcessor(task.ProcessorDeps{
		Datasets: stores.Datasets,
		Status:   status,
		Queue:    stores.Queue,
		Products: stores.Products,
		Labels:   stores.Labels,
		Files: transfer.NewClient(dialer,
			transfer.WithLocalFs(fs),
			transfer.WithDevMode(cfg.DevMode),
			transfer.WithMetrics(m)),
		Tools:       NewTools(cfg.Tools, fs),
		Credentials: creds,
		Fs:          fs,
		Metrics:     m,
	}, task.ProcessorConfig{
		RemoteRoot:    cfg.Remote.DataRoot,
		ProcessingDir: cfg.Storage.ProcessingDir,
		DevMode:       cfg.DevMode,
	})

	return task.NewScheduler(stores.Queue, stores.Datasets, proc, creds, task.SchedulerConfig{
		Concurrency:   cfg.Scheduler.Concurrency,
		PollInterval:  cfg.Scheduler.PollInterval,
		StaleClaimAge: cfg.Scheduler.StaleClaimAge,
	}, m, logger), nil
}
