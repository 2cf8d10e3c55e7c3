package store

import (
	"context"
	"database/sql"

	"github.com/orthoflow/orthoflow/internal/domain"
)

// DatasetFinalization carries the fields written once when an upload completes.
type DatasetFinalization struct {
	FileName string
	FileSize int64
	CopyTime float64
	SHA256   string
	BBox     domain.BoundingBox
}

// DatasetStore defines the interface for dataset persistence.
type DatasetStore interface {
	// CreateUploading inserts a dataset in the uploading status, or returns the
	// existing row when one with the same upload ID exists.
	CreateUploading(ctx context.Context, dataset *domain.Dataset) (*domain.Dataset, error)

	// GetByID retrieves a dataset by its ID.
	// Returns ErrDatasetNotFound if the dataset does not exist.
	GetByID(ctx context.Context, id int64) (*domain.Dataset, error)

	// GetByUploadID retrieves a dataset by its upload identifier.
	// Returns ErrDatasetNotFound if no upload with that ID was started.
	GetByUploadID(ctx context.Context, uploadID string) (*domain.Dataset, error)

	// Finalize writes the storage name, size, hash and bounds in a single update
	// and moves the dataset to uploaded.
	Finalize(ctx context.Context, id int64, f DatasetFinalization) (*domain.Dataset, error)

	// UpdateStatus changes only the status column.
	// Returns ErrDatasetNotFound if the dataset does not exist.
	UpdateStatus(ctx context.Context, id int64, status domain.DatasetStatus) error

	// WithTx returns a new DatasetStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) DatasetStore
}
