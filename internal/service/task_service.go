package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/events"
	"github.com/orthoflow/orthoflow/internal/store"
)

// SubmitRequest asks for a task to be queued for a dataset.
type SubmitRequest struct {
	DatasetID int64
	UserID    uuid.UUID
	TaskType  domain.TaskType
	// Options defaults to domain.DefaultProcessOptions when nil.
	Options *domain.ProcessOptions
	// Priority defaults to domain.DefaultPriority when nil.
	Priority *int
}

// TaskService queues processing tasks.
type TaskService interface {
	// Submit validates the request, checks the dataset exists and enqueues the
	// task. The returned task carries its queue position, or -1 when the
	// position view does not list it yet.
	Submit(ctx context.Context, req SubmitRequest) (*domain.QueueTask, error)
}

type taskServiceImpl struct {
	db       *sql.DB
	datasets store.DatasetStore
	queue    store.QueueStore
	emitter  events.EventEmitter
	logger   *slog.Logger
}

// NewTaskService creates a TaskService. emitter may be nil when no in-process
// scheduler listens for new tasks.
func NewTaskService(
	db *sql.DB,
	datasets store.DatasetStore,
	queue store.QueueStore,
	emitter events.EventEmitter,
	logger *slog.Logger,
) (TaskService, error) {
	if db == nil {
		return nil, &ServiceError{Service: "task", Op: "create_service", Err: errors.New("db cannot be nil")}
	}
	if datasets == nil {
		return nil, &ServiceError{Service: "task", Op: "create_service", Err: errors.New("datasets cannot be nil")}
	}
	if queue == nil {
		return nil, &ServiceError{Service: "task", Op: "create_service", Err: errors.New("queue cannot be nil")}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &taskServiceImpl{
		db:       db,
		datasets: datasets,
		queue:    queue,
		emitter:  emitter,
		logger:   logger.With("component", "task_service"),
	}, nil
}

// Submit implements TaskService.
func (s *taskServiceImpl) Submit(ctx context.Context, req SubmitRequest) (*domain.QueueTask, error) {
	opts := domain.DefaultProcessOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	task, err := domain.NewQueueTask(req.DatasetID, req.UserID, req.TaskType, opts, priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.datasets.WithTx(tx).GetByID(ctx, req.DatasetID); err != nil {
			s.logger.Error("failed to load dataset for task",
				"error", err,
				"dataset_id", req.DatasetID,
				"user_id", req.UserID)
			return NewServiceError("task", "submit", err)
		}
		if err := s.queue.WithTx(tx).Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue task",
				"error", err,
				"dataset_id", req.DatasetID,
				"task_type", req.TaskType)
			return NewServiceError("task", "submit", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task queued",
		"task_id", task.ID,
		"dataset_id", task.DatasetID,
		"user_id", task.UserID,
		"task_type", task.TaskType,
		"priority", task.Priority)

	s.notify(ctx, task)

	positioned, err := s.queue.Position(ctx, task.ID)
	switch {
	case err == nil:
		return positioned, nil
	case errors.Is(err, store.ErrTaskNotFound):
		// Already claimed, or not yet visible in the view.
		s.logger.Warn("no queue position for task", "task_id", task.ID)
		task.CurrentPosition = -1
		task.EstimatedTime = 0
		return task, nil
	default:
		return nil, NewServiceError("task", "load_position", err)
	}
}

func (s *taskServiceImpl) notify(ctx context.Context, task *domain.QueueTask) {
	if s.emitter == nil {
		return
	}
	event, err := events.NewEnqueuedEvent(events.EnqueuedPayload{
		TaskID:    task.ID,
		DatasetID: task.DatasetID,
		TaskType:  task.TaskType.String(),
		Priority:  task.Priority,
	})
	if err == nil {
		err = s.emitter.EmitEvent(ctx, event)
	}
	// The scheduler still finds the task on its next poll.
	if err != nil {
		s.logger.Warn("failed to emit task event", "error", err, "task_id", task.ID)
	}
}
