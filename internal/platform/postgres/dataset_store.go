package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
)

const datasetColumns = `id, upload_id, file_name, file_alias, file_size, copy_time, sha256,
	bbox_left, bbox_bottom, bbox_right, bbox_top, status, user_id, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresDatasetStore implements store.DatasetStore.
type PostgresDatasetStore struct {
	db     store.DBTX
	tables Tables
	logger *slog.Logger
}

// NewPostgresDatasetStore creates a dataset store on db for the given table set.
// If logger is nil, the default logger is used.
func NewPostgresDatasetStore(db store.DBTX, tables Tables, logger *slog.Logger) *PostgresDatasetStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDatasetStore{
		db:     db,
		tables: tables,
		logger: logger.With(slog.String("component", "dataset_store")),
	}
}

// Ensure PostgresDatasetStore implements store.DatasetStore interface
var _ store.DatasetStore = (*PostgresDatasetStore)(nil)

// WithTx implements store.DatasetStore.WithTx
func (s *PostgresDatasetStore) WithTx(tx *sql.Tx) store.DatasetStore {
	return &PostgresDatasetStore{db: tx, tables: s.tables, logger: s.logger}
}

// CreateUploading implements store.DatasetStore.CreateUploading.
// A repeated upload ID returns the existing row unchanged apart from updated_at.
func (s *PostgresDatasetStore) CreateUploading(ctx context.Context, d *domain.Dataset) (*domain.Dataset, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (upload_id, file_alias, file_size, copy_time, status, user_id, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $4, $5, $5)
		ON CONFLICT (upload_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING %s`, s.tables.Datasets, datasetColumns)

	row := s.db.QueryRowContext(ctx, query,
		d.UploadID, d.FileAlias, domain.DatasetStatusUploading, d.UserID, time.Now().UTC())
	created, err := scanDataset(row)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create dataset",
			slog.String("upload_id", d.UploadID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return created, nil
}

// GetByID implements store.DatasetStore.GetByID
func (s *PostgresDatasetStore) GetByID(ctx context.Context, id int64) (*domain.Dataset, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, datasetColumns, s.tables.Datasets)
	d, err := scanDataset(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: id %d", store.ErrDatasetNotFound, id)
		}
		return nil, MapError(err)
	}
	return d, nil
}

// GetByUploadID implements store.DatasetStore.GetByUploadID
func (s *PostgresDatasetStore) GetByUploadID(ctx context.Context, uploadID string) (*domain.Dataset, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE upload_id = $1`, datasetColumns, s.tables.Datasets)
	d, err := scanDataset(s.db.QueryRowContext(ctx, query, uploadID))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: upload %s", store.ErrDatasetNotFound, uploadID)
		}
		return nil, MapError(err)
	}
	return d, nil
}

// Finalize implements store.DatasetStore.Finalize.
// Hash and bounds are written together in this single statement.
func (s *PostgresDatasetStore) Finalize(ctx context.Context, id int64, f store.DatasetFinalization) (*domain.Dataset, error) {
	if f.FileName == "" || f.SHA256 == "" {
		return nil, fmt.Errorf("%w: file name and hash are required", store.ErrInvalidEntity)
	}
	if err := f.BBox.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET file_name = $1, file_size = $2, copy_time = $3, sha256 = $4,
			bbox_left = $5, bbox_bottom = $6, bbox_right = $7, bbox_top = $8,
			status = $9, updated_at = $10
		WHERE id = $11
		RETURNING %s`, s.tables.Datasets, datasetColumns)

	row := s.db.QueryRowContext(ctx, query,
		f.FileName, f.FileSize, f.CopyTime, f.SHA256,
		f.BBox.Left, f.BBox.Bottom, f.BBox.Right, f.BBox.Top,
		domain.DatasetStatusUploaded, time.Now().UTC(), id)
	d, err := scanDataset(row)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: id %d", store.ErrDatasetNotFound, id)
		}
		s.logger.ErrorContext(ctx, "failed to finalize dataset",
			slog.Int64("dataset_id", id),
			slog.String("error", err.Error()))
		return nil, MapUniqueViolation(err, store.ErrFileNameExists)
	}
	return d, nil
}

// UpdateStatus implements store.DatasetStore.UpdateStatus
func (s *PostgresDatasetStore) UpdateStatus(ctx context.Context, id int64, status domain.DatasetStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2 WHERE id = $3`, s.tables.Datasets)
	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, fmt.Errorf("%w: id %d", store.ErrDatasetNotFound, id))
}

func scanDataset(row rowScanner) (*domain.Dataset, error) {
	var (
		d                        domain.Dataset
		fileName, sha            sql.NullString
		left, bottom, right, top sql.NullFloat64
		status                   string
	)
	err := row.Scan(&d.ID, &d.UploadID, &fileName, &d.FileAlias, &d.FileSize, &d.CopyTime, &sha,
		&left, &bottom, &right, &top, &status, &d.UserID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.FileName = fileName.String
	d.SHA256 = sha.String
	d.Status = domain.DatasetStatus(status)
	if left.Valid && bottom.Valid && right.Valid && top.Valid {
		d.BBox = &domain.BoundingBox{
			Left: left.Float64, Bottom: bottom.Float64, Right: right.Float64, Top: top.Float64,
		}
	}
	return &d, nil
}

// IsNotFoundError reports whether err means no row matched.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || store.IsNotFoundError(err)
}
