package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orthoflow/orthoflow/internal/domain"
)

// Kind classifies a task failure.
type Kind int

const (
	// KindInternal covers failures that fit no other kind.
	KindInternal Kind = iota
	// KindAuthentication means credentials for the metadata store could not be obtained.
	KindAuthentication
	// KindDataset means a dataset record could not be read or written.
	KindDataset
	// KindProcessing means a raster tool or renderer failed.
	KindProcessing
	// KindStorage means a remote or local file operation failed.
	KindStorage
)

// String returns the metric and log label of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindDataset:
		return "dataset"
	case KindProcessing:
		return "processing"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is a task failure annotated with where it happened.
type Error struct {
	Kind      Kind
	TaskID    int64
	DatasetID int64
	TaskType  domain.TaskType
	Op        string
	Path      string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Op != "" {
		fmt.Fprintf(&b, " during %s", e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " of %s", e.Path)
	}
	fmt.Fprintf(&b, " (task %d, dataset %d", e.TaskID, e.DatasetID)
	if e.TaskType != "" {
		fmt.Fprintf(&b, ", %s", e.TaskType)
	}
	b.WriteString(")")
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the task could succeed without
// operator action. Authentication failures are not retryable.
func (e *Error) Retryable() bool {
	return e.Kind != KindAuthentication
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if te, ok := AsError(err); ok {
		return te.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a retryable task failure. Errors that
// carry no classification are treated as retryable.
func IsRetryable(err error) bool {
	if te, ok := AsError(err); ok {
		return te.Retryable()
	}
	return err != nil
}

// failure builds Errors bound to one task.
type failure struct {
	task *domain.QueueTask
}

func (f failure) wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	// Keep the innermost classification.
	if te, ok := AsError(err); ok && te.TaskID == f.task.ID {
		return err
	}
	return &Error{
		Kind:      kind,
		TaskID:    f.task.ID,
		DatasetID: f.task.DatasetID,
		TaskType:  f.task.TaskType,
		Op:        op,
		Path:      path,
		Err:       err,
	}
}
