package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
)

const positionColumns = `id, dataset_id, user_id, priority, build_args, task_type, is_processing,
	created_at, current_position, estimated_time`

// PostgresQueueStore implements store.QueueStore on the queue table and its
// position view.
type PostgresQueueStore struct {
	db     store.DBTX
	tables Tables
	logger *slog.Logger
}

// NewPostgresQueueStore creates a queue store on db for the given table set.
func NewPostgresQueueStore(db store.DBTX, tables Tables, logger *slog.Logger) *PostgresQueueStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQueueStore{
		db:     db,
		tables: tables,
		logger: logger.With(slog.String("component", "queue_store")),
	}
}

// Ensure PostgresQueueStore implements store.QueueStore interface
var _ store.QueueStore = (*PostgresQueueStore)(nil)

// WithTx implements store.QueueStore.WithTx
func (s *PostgresQueueStore) WithTx(tx *sql.Tx) store.QueueStore {
	return &PostgresQueueStore{db: tx, tables: s.tables, logger: s.logger}
}

// RunningCount implements store.QueueStore.RunningCount
func (s *PostgresQueueStore) RunningCount(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_processing = true`, s.tables.Queue)
	return s.count(ctx, query)
}

// QueueLength implements store.QueueStore.QueueLength
func (s *PostgresQueueStore) QueueLength(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tables.QueuePositions)
	return s.count(ctx, query)
}

func (s *PostgresQueueStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// NextTask implements store.QueueStore.NextTask
func (s *PostgresQueueStore) NextTask(ctx context.Context) (*domain.QueueTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY current_position LIMIT 1`,
		positionColumns, s.tables.QueuePositions)
	t, err := scanQueueTask(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, MapError(err)
	}
	return t, nil
}

// Claim implements store.QueueStore.Claim.
// The is_processing guard makes concurrent claims of the same row race-free.
func (s *PostgresQueueStore) Claim(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET is_processing = true, claimed_at = $1
		WHERE id = $2 AND is_processing = false`, s.tables.Queue)
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, store.NewStoreError("queue task", "claim", "could not claim task",
			fmt.Errorf("%w: %w", store.ErrUpdateFailed, MapError(err)))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Release implements store.QueueStore.Release
func (s *PostgresQueueStore) Release(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET is_processing = false, claimed_at = NULL WHERE id = $1`, s.tables.Queue)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return store.NewStoreError("queue task", "release", "could not release claim",
			fmt.Errorf("%w: %w", store.ErrUpdateFailed, MapError(err)))
	}
	return CheckRowsAffected(result, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id))
}

// Remove implements store.QueueStore.Remove
func (s *PostgresQueueStore) Remove(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Queue)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return store.NewStoreError("queue task", "remove", "could not remove task",
			fmt.Errorf("%w: %w", store.ErrDeleteFailed, MapError(err)))
	}
	return CheckRowsAffected(result, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id))
}

// ResetStale implements store.QueueStore.ResetStale
func (s *PostgresQueueStore) ResetStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET is_processing = false, claimed_at = NULL
		WHERE is_processing = true AND (claimed_at IS NULL OR claimed_at < $1)`, s.tables.Queue)
	result, err := s.db.ExecContext(ctx, query, claimedBefore)
	if err != nil {
		return 0, store.NewStoreError("queue task", "reset stale", "could not reset claims",
			fmt.Errorf("%w: %w", store.ErrUpdateFailed, MapError(err)))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "reset stale task claims",
			slog.Int64("count", n),
			slog.Time("claimed_before", claimedBefore))
	}
	return int(n), nil
}

// Enqueue implements store.QueueStore.Enqueue
func (s *PostgresQueueStore) Enqueue(ctx context.Context, t *domain.QueueTask) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	args, err := json.Marshal(t.BuildArgs)
	if err != nil {
		return fmt.Errorf("failed to encode build args: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (dataset_id, user_id, priority, build_args, task_type, is_processing, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
		RETURNING id, created_at`, s.tables.Queue)
	err = s.db.QueryRowContext(ctx, query,
		t.DatasetID, t.UserID, t.Priority, args, t.TaskType, time.Now().UTC(),
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue task",
			slog.Int64("dataset_id", t.DatasetID),
			slog.String("task_type", string(t.TaskType)),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// Position implements store.QueueStore.Position
func (s *PostgresQueueStore) Position(ctx context.Context, id int64) (*domain.QueueTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, positionColumns, s.tables.QueuePositions)
	t, err := scanQueueTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
		}
		return nil, MapError(err)
	}
	return t, nil
}

func scanQueueTask(row rowScanner) (*domain.QueueTask, error) {
	var (
		t        domain.QueueTask
		args     []byte
		taskType string
	)
	err := row.Scan(&t.ID, &t.DatasetID, &t.UserID, &t.Priority, &args, &taskType,
		&t.IsProcessing, &t.CreatedAt, &t.CurrentPosition, &t.EstimatedTime)
	if err != nil {
		return nil, err
	}

	t.TaskType = domain.TaskType(taskType)
	t.BuildArgs = domain.DefaultProcessOptions()
	if len(args) > 0 {
		if err := json.Unmarshal(args, &t.BuildArgs); err != nil {
			return nil, fmt.Errorf("failed to decode build args of task %d: %w", t.ID, err)
		}
	}
	return &t, nil
}
