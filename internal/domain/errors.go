// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidDatasetStatus is returned when a dataset status is not one of the known values.
	ErrInvalidDatasetStatus = errors.New("invalid dataset status")

	// ErrInvalidTaskType is returned when a task type is not one of the known values.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidBoundingBox is returned when bounds are outside WGS84 ranges or inverted.
	ErrInvalidBoundingBox = errors.New("invalid bounding box")

	// ErrInvalidOptions is returned when processing options fail validation.
	ErrInvalidOptions = errors.New("invalid processing options")
)
