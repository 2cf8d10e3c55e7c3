package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// TaskType identifies the processing operation requested for a dataset.
type TaskType string

// Supported task types
const (
	TaskTypeConvert              TaskType = "convert"
	TaskTypeCog                  TaskType = "cog"
	TaskTypeThumbnail            TaskType = "thumbnail"
	TaskTypeDeadwoodSegmentation TaskType = "deadwood_segmentation"
	TaskTypeAll                  TaskType = "all"
)

// ParseTaskType converts a string into a TaskType, rejecting unknown values.
func ParseTaskType(s string) (TaskType, error) {
	switch t := TaskType(s); t {
	case TaskTypeConvert, TaskTypeCog, TaskTypeThumbnail, TaskTypeDeadwoodSegmentation, TaskTypeAll:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
	}
}

// String returns the raw task type value.
func (t TaskType) String() string { return string(t) }

// Tiling schemes accepted by ProcessOptions.
const (
	TilingWebOptimized = "web-optimized"
	TilingOriginal     = "original"
)

// ProcessOptions are the build arguments stored with a queued task.
type ProcessOptions struct {
	Profile             string  `json:"profile" validate:"oneof=jpeg webp zstd lzw deflate packbits lzma lerc lerc_deflate lerc_zstd raw"`
	Quality             int     `json:"quality" validate:"gte=0,lte=100"`
	TilingScheme        string  `json:"tiling_scheme" validate:"oneof=web-optimized original"`
	ForceRecreate       bool    `json:"force_recreate"`
	Resolution          float64 `json:"resolution" validate:"gt=0"`
	IncludeSegmentation bool    `json:"include_segmentation"`
}

// DefaultProcessOptions returns the options applied when a request omits them.
func DefaultProcessOptions() ProcessOptions {
	return ProcessOptions{
		Profile:      "jpeg",
		Quality:      75,
		TilingScheme: TilingWebOptimized,
		Resolution:   0.04,
	}
}

var optionsValidator = validator.New()

// Validate checks the options against their field constraints.
func (o ProcessOptions) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// DefaultPriority is assigned to tasks submitted without an explicit priority.
const DefaultPriority = 2

// QueueTask is one pending unit of work. Lower Priority values run first;
// ties are broken by ascending ID.
//
// CurrentPosition and EstimatedTime are derived by the position view and are
// only populated on reads from it.
type QueueTask struct {
	ID              int64          `json:"id"`
	DatasetID       int64          `json:"dataset_id"`
	UserID          uuid.UUID      `json:"user_id"`
	Priority        int            `json:"priority"`
	BuildArgs       ProcessOptions `json:"build_args"`
	TaskType        TaskType       `json:"task_type"`
	IsProcessing    bool           `json:"is_processing"`
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	CurrentPosition int            `json:"current_position"`
	EstimatedTime   float64        `json:"estimated_time"`
}

// NewQueueTask creates a validated task ready to be enqueued.
func NewQueueTask(datasetID int64, userID uuid.UUID, taskType TaskType, opts ProcessOptions, priority int) (*QueueTask, error) {
	t := &QueueTask{
		DatasetID: datasetID,
		UserID:    userID,
		Priority:  priority,
		BuildArgs: opts,
		TaskType:  taskType,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks if the QueueTask has valid data.
func (t *QueueTask) Validate() error {
	if t.DatasetID <= 0 {
		return fmt.Errorf("%w: dataset ID must be positive", ErrInvalidID)
	}
	if t.UserID == uuid.Nil {
		return fmt.Errorf("%w: user ID cannot be empty", ErrValidation)
	}
	if _, err := ParseTaskType(string(t.TaskType)); err != nil {
		return err
	}
	if t.Priority < 0 {
		return fmt.Errorf("%w: priority cannot be negative", ErrValidation)
	}
	return t.BuildArgs.Validate()
}
