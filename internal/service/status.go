package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
)

// StatusRepository updates the status column of a dataset.
// store.DatasetStore satisfies it.
type StatusRepository interface {
	UpdateStatus(ctx context.Context, id int64, status domain.DatasetStatus) error
}

// StatusManager moves datasets between statuses. It checks that the target
// is a known status but not whether the transition is allowed; stages set
// their own status on entry and errored on failure from any state.
type StatusManager struct {
	repo   StatusRepository
	logger *slog.Logger
}

// NewStatusManager creates a StatusManager.
func NewStatusManager(repo StatusRepository, logger *slog.Logger) *StatusManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusManager{repo: repo, logger: logger.With("component", "status_manager")}
}

// SetStatus writes status for the dataset. Returns ErrDatasetNotFound when
// the dataset does not exist.
func (m *StatusManager) SetStatus(ctx context.Context, datasetID int64, status domain.DatasetStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidRequest, domain.ErrInvalidDatasetStatus, status)
	}

	if err := m.repo.UpdateStatus(ctx, datasetID, status); err != nil {
		m.logger.Error("failed to update dataset status",
			"error", err,
			"dataset_id", datasetID,
			"status", status)
		return NewServiceError("status", "set_status", err)
	}

	logger.FromContext(ctx).DebugContext(ctx, "dataset status updated",
		"dataset_id", datasetID,
		"status", status)
	return nil
}
