package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
)

// QueueStore defines the interface for the pending task queue.
//
// Ordering is by ascending priority, then ascending ID. Only tasks that are not
// being processed are visible through NextTask, QueueLength and Position.
type QueueStore interface {
	// RunningCount returns the number of tasks currently marked as processing.
	RunningCount(ctx context.Context) (int, error)

	// QueueLength returns the number of tasks waiting to be processed.
	QueueLength(ctx context.Context) (int, error)

	// NextTask returns the head of the queue, or nil when it is empty.
	NextTask(ctx context.Context) (*domain.QueueTask, error)

	// Claim marks the task as processing if no one else has. It reports
	// whether this caller won the claim.
	Claim(ctx context.Context, id int64) (bool, error)

	// Release clears the processing mark, leaving the task queued.
	Release(ctx context.Context, id int64) error

	// Remove deletes the task after successful completion.
	// Returns ErrTaskNotFound if the task does not exist.
	Remove(ctx context.Context, id int64) error

	// ResetStale releases processing marks claimed before the cutoff and
	// returns how many were reset.
	ResetStale(ctx context.Context, claimedBefore time.Time) (int, error)

	// Enqueue inserts a new task and fills in its ID and CreatedAt.
	Enqueue(ctx context.Context, task *domain.QueueTask) error

	// Position returns the task as seen by the position view.
	// Returns ErrTaskNotFound when the view does not list it.
	Position(ctx context.Context, id int64) (*domain.QueueTask, error)

	// WithTx returns a new QueueStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) QueueStore
}
