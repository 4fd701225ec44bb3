// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowdef/pkg/graph"
	"github.com/dukex/flowdef/pkg/lock"
	"github.com/dukex/flowdef/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownProject = errors.New("unknown project")
	ErrUnknownTenant  = errors.New("unknown tenant")
	ErrInvalidGraph   = errors.New("definition graph is invalid")

	// Lookup Errors (404 Not Found).
	ErrNotFound        = errors.New("workflow definition not found")
	ErrVersionNotFound = errors.New("workflow definition version not found")

	// Business Logic Conflicts (409 Conflict).
	ErrNameExists              = errors.New("workflow definition name already exists in project")
	ErrNameCollision           = errors.New("target project already has a definition with this name")
	ErrInUse                   = errors.New("workflow definition is online")
	ErrCannotDeleteCurrent     = errors.New("cannot delete the current version")
	ErrCannotDeleteWhileOnline = errors.New("cannot delete the online version")
	ErrInvalidTransition       = errors.New("release state transition not allowed")

	// ErrConflict reports a lost race with a concurrent writer. Retrying with fresh state may succeed.
	ErrConflict = errors.New("workflow definition was modified concurrently")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownProject) ||
		errors.Is(err, ErrUnknownTenant) ||
		errors.Is(err, ErrInvalidGraph) ||
		graph.IsGraphError(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNameExists) ||
		errors.Is(err, ErrNameCollision) ||
		errors.Is(err, ErrInUse) ||
		errors.Is(err, ErrCannotDeleteCurrent) ||
		errors.Is(err, ErrCannotDeleteWhileOnline) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConflict)
}

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ErrorCode returns the API error code carried by err, or "" when it has none.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code
	}

	return ""
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func notFound(op string, code int64) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "DEFINITION_NOT_FOUND",
		Message: fmt.Sprintf("workflow definition %d not found", code),
		Err:     ErrNotFound,
	}
}

// invalidGraph wraps a validator failure so it matches both ErrInvalidGraph and its graph kind.
func invalidGraph(op string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "INVALID_GRAPH",
		Message: err.Error(),
		Err:     fmt.Errorf("%w: %w", ErrInvalidGraph, err),
	}
}

// mapPersistenceError translates repository and lock failures into the service taxonomy. Errors it
// does not recognize are returned wrapped as internal failures.
func mapPersistenceError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case persistence.IsDefinitionNotFound(err):
		return &ServiceError{Op: op, Code: "DEFINITION_NOT_FOUND", Message: err.Error(), Err: ErrNotFound}
	case persistence.IsVersionNotFound(err):
		return &ServiceError{Op: op, Code: "VERSION_NOT_FOUND", Message: err.Error(), Err: ErrVersionNotFound}
	case persistence.IsNameExists(err):
		return &ServiceError{Op: op, Code: "NAME_EXISTS", Message: err.Error(), Err: ErrNameExists}
	case persistence.IsConcurrentUpdate(err),
		errors.Is(err, persistence.ErrDefinitionAlreadyExists),
		errors.Is(err, lock.ErrLocked):
		return &ServiceError{Op: op, Code: "CONFLICT", Message: err.Error(), Err: ErrConflict}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
