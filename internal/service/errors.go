package service

import (
	"errors"
	"fmt"

	"github.com/orthoflow/orthoflow/internal/store"
)

// Sentinel errors returned by the services. The API layer maps them to
// HTTP status codes with errors.Is.
var (
	// ErrDatasetNotFound indicates the referenced dataset does not exist.
	// It is the store sentinel so callers can match either.
	// API layer should map this to HTTP 404 Not Found.
	ErrDatasetNotFound = store.ErrDatasetNotFound

	// ErrInvalidRequest indicates the caller supplied invalid input.
	// API layer should map this to HTTP 400 Bad Request.
	ErrInvalidRequest = errors.New("invalid request")
)

// ServiceError wraps an unexpected failure with the service and operation
// it happened in.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service %s operation failed: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s service %s operation failed", e.Service, e.Op)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError translates store not-found errors into ErrDatasetNotFound
// and wraps everything else.
func NewServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDatasetNotFound) {
		return ErrDatasetNotFound
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}
