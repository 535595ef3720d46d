// Package topology contains pure functions for loading and validating service
// topologies. This is part of the Functional Core - all functions are pure
// with no I/O.
package topology

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput      = errors.New("topology document is empty")
	ErrInvalidDocument = errors.New("invalid topology document")

	// Structure errors
	ErrNoServices = errors.New("topology must define at least one service")

	// Service validation errors
	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrInvalidPort        = errors.New("invalid port configuration")
	ErrInvalidScale       = errors.New("scale must be non-negative")
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrTopologyConflict is returned when the merged topology violates
	// referential integrity: duplicate host ports, or references to volumes
	// or networks that are not declared.
	ErrTopologyConflict = errors.New("topology conflict")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported topology feature")
)

// FieldError wraps errors with the path of the field where resolution failed.
type FieldError struct {
	Path    string // e.g., "services.app.ports[1]"
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError creates a new FieldError.
func NewFieldError(path, message string, err error) *FieldError {
	return &FieldError{
		Path:    path,
		Message: message,
		Err:     err,
	}
}
