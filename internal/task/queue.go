package task

import (
	"context"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
)

// QueueReader is the read-only view of the task queue used for dispatch decisions.
type QueueReader interface {
	RunningCount(ctx context.Context) (int, error)
	QueueLength(ctx context.Context) (int, error)
	NextTask(ctx context.Context) (*domain.QueueTask, error)
}

// QueueWriter mutates queue entries.
type QueueWriter interface {
	Claim(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
	ResetStale(ctx context.Context, claimedBefore time.Time) (int, error)
}

// Queue combines both sides. store.QueueStore satisfies it.
type Queue interface {
	QueueReader
	QueueWriter
}

var _ Queue = (store.QueueStore)(nil)

// StatusSetter moves a dataset to a new status.
type StatusSetter interface {
	SetStatus(ctx context.Context, datasetID int64, status domain.DatasetStatus) error
}

// DatasetGetter loads a dataset record.
type DatasetGetter interface {
	GetByID(ctx context.Context, id int64) (*domain.Dataset, error)
}

// CredentialProvider yields a bearer credential for metadata store writes.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}
