// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates no definition exists for the given code.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionAlreadyExists indicates a definition with the same code is already stored.
	ErrDefinitionAlreadyExists = errors.New("workflow definition already exists")

	// ErrNameExists indicates another definition of the project already uses the name.
	ErrNameExists = errors.New("workflow definition name already exists in project")

	// ErrVersionNotFound indicates the requested version of a definition does not exist.
	ErrVersionNotFound = errors.New("workflow definition version not found")

	// ErrConcurrentUpdate indicates the stored state changed since the caller read it.
	ErrConcurrentUpdate = errors.New("workflow definition was modified concurrently")
)

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op      string // Operation being performed (e.g., "Create", "AppendVersion", "Move")
	Code    int64  // Definition code if applicable
	Version int    // Version number if applicable
	Err     error  // Underlying error
}

func (e *DefinitionError) Error() string {
	if e.Version != 0 {
		return fmt.Sprintf("%s operation failed for definition %d version %d: %v", e.Op, e.Code, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for definition %d: %v", e.Op, e.Code, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for definition errors.
func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op string, code int64, err error) *DefinitionError {
	return &DefinitionError{
		Op:   op,
		Code: code,
		Err:  err,
	}
}

// NewVersionError creates a new definition error for a single version.
func NewVersionError(op string, code int64, version int, err error) *DefinitionError {
	return &DefinitionError{
		Op:      op,
		Code:    code,
		Version: version,
		Err:     err,
	}
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsNameExists checks if an error indicates a project-scoped name clash.
func IsNameExists(err error) bool {
	return errors.Is(err, ErrNameExists)
}

// IsVersionNotFound checks if an error indicates a version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsConcurrentUpdate checks if an error indicates a lost compare-and-swap.
func IsConcurrentUpdate(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}
