package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/events"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
)

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// Concurrency caps the number of tasks processed at once, across all
	// schedulers sharing the queue.
	Concurrency int

	// PollInterval is the time between queue polls when no event arrives.
	PollInterval time.Duration

	// StaleClaimAge is how long a claim may be held before it is considered
	// abandoned and released on startup.
	StaleClaimAge time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Concurrency:   2,
		PollInterval:  60 * time.Second,
		StaleClaimAge: 6 * time.Hour,
	}
}

// Executor runs one claimed task to completion.
type Executor interface {
	Execute(ctx context.Context, t *domain.QueueTask) error
}

// Scheduler polls the queue and dispatches eligible tasks up to the
// concurrency cap.
type Scheduler struct {
	queue       Queue
	datasets    DatasetGetter
	exec        Executor
	credentials CredentialProvider
	config      SchedulerConfig
	metrics     *metrics.Metrics
	logger      *slog.Logger

	sem  chan struct{}
	wake chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a new Scheduler
func NewScheduler(
	queue Queue,
	datasets DatasetGetter,
	exec Executor,
	credentials CredentialProvider,
	config SchedulerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StaleClaimAge <= 0 {
		config.StaleClaimAge = defaults.StaleClaimAge
	}
	return &Scheduler{
		queue:       queue,
		datasets:    datasets,
		exec:        exec,
		credentials: credentials,
		config:      config,
		metrics:     m,
		logger:      logger.With("component", "scheduler"),
		sem:         make(chan struct{}, config.Concurrency),
		wake:        make(chan struct{}, 1),
	}
}

// Poll makes one dispatch decision. It starts at most one task in the
// background and returns without waiting for it.
func (s *Scheduler) Poll(ctx context.Context) error {
	_, err := s.poll(ctx)
	return err
}

// RunOnce polls once and waits for any task it dispatched.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	_, err := s.poll(ctx)
	s.wg.Wait()
	return err
}

// Run releases stale claims, then polls every PollInterval and whenever Wake
// is called, until ctx is done. It waits for in-flight tasks before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.WithLogger(ctx, s.logger)
	defer s.wg.Wait()

	cutoff := time.Now().Add(-s.config.StaleClaimAge)
	n, err := s.queue.ResetStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to reset stale claims: %w", err)
	}
	if n > 0 {
		s.logger.Info("released stale task claims", "count", n, "claimed_before", cutoff)
	}

	s.logger.Info("scheduler started",
		"concurrency", s.config.Concurrency,
		"poll_interval", s.config.PollInterval)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.Wake()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for running tasks")
			return nil
		case <-ticker.C:
		case <-s.wake:
		}

		dispatched, err := s.poll(ctx)
		if err != nil {
			s.logger.Error("poll failed", "error", err)
			continue
		}
		// Keep filling free slots until the queue or the cap stops us.
		if dispatched {
			s.Wake()
		}
	}
}

// Wake requests an immediate poll from Run. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every dispatched task has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) poll(ctx context.Context) (bool, error) {
	log := logger.FromContext(ctx)

	token, err := s.credentials.Token(ctx)
	if err != nil || token == "" {
		return false, &Error{Kind: KindAuthentication, Op: "authenticate", Err: err}
	}

	length, err := s.queue.QueueLength(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read queue length: %w", err)
	}
	s.metrics.QueueLength(length)
	if length == 0 {
		log.DebugContext(ctx, "queue is empty")
		s.metrics.PollSkipped("empty")
		return false, nil
	}

	running, err := s.queue.RunningCount(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count running tasks: %w", err)
	}
	if running >= s.config.Concurrency {
		log.DebugContext(ctx, "concurrency limit reached",
			slog.Int("running", running),
			slog.Int("limit", s.config.Concurrency))
		s.metrics.PollSkipped("capacity")
		return false, nil
	}

	select {
	case s.sem <- struct{}{}:
	default:
		log.DebugContext(ctx, "all local slots busy", slog.Int("limit", s.config.Concurrency))
		s.metrics.PollSkipped("capacity")
		return false, nil
	}
	dispatched := false
	defer func() {
		if !dispatched {
			<-s.sem
		}
	}()

	next, err := s.queue.NextTask(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read next task: %w", err)
	}
	if next == nil {
		s.metrics.PollSkipped("empty")
		return false, nil
	}

	ds, err := s.datasets.GetByID(ctx, next.DatasetID)
	if err != nil {
		return false, fmt.Errorf("failed to load dataset %d for task %d: %w", next.DatasetID, next.ID, err)
	}
	// The head of the queue blocks the rest until its dataset becomes eligible.
	if !ds.Status.Eligible() {
		log.WarnContext(ctx, "dataset not ready for processing",
			slog.Int64("task_id", next.ID),
			slog.Int64("dataset_id", ds.ID),
			slog.String("status", ds.Status.String()))
		s.metrics.PollSkipped("ineligible")
		return false, nil
	}

	won, err := s.queue.Claim(ctx, next.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim task %d: %w", next.ID, err)
	}
	if !won {
		log.DebugContext(ctx, "task claimed by another worker", slog.Int64("task_id", next.ID))
		s.metrics.PollSkipped("claimed")
		return false, nil
	}

	dispatched = true
	s.wg.Add(1)
	// Tools keep running when the poll loop stops.
	taskCtx := context.WithoutCancel(ctx)
	go s.execute(taskCtx, next)
	return true, nil
}

func (s *Scheduler) execute(ctx context.Context, t *domain.QueueTask) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task_id", t.ID, "panic", r)
			if err := s.queue.Release(ctx, t.ID); err != nil {
				s.logger.Error("failed to release task after panic", "task_id", t.ID, "error", err)
			}
		}
	}()

	s.logger.Info("dispatching task",
		"task_id", t.ID,
		"dataset_id", t.DatasetID,
		"task_type", t.TaskType)
	if err := s.exec.Execute(ctx, t); err != nil {
		s.logger.Error("task execution failed", "task_id", t.ID, "error", err)
	}
	s.Wake()
}

// WakeHandler wakes a scheduler when a task is enqueued.
type WakeHandler struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewWakeHandler creates an event handler bound to s.
func NewWakeHandler(s *Scheduler, logger *slog.Logger) *WakeHandler {
	return &WakeHandler{
		scheduler: s,
		logger:    logger.With("component", "scheduler_wake_handler"),
	}
}

// HandleEvent wakes the scheduler for task_enqueued events and ignores the rest.
func (h *WakeHandler) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if event.Type != events.TaskEnqueued {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}
	h.scheduler.Wake()
	return nil
}

var _ events.EventHandler = (*WakeHandler)(nil)
