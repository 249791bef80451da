package director

import (
	"errors"
	"fmt"
)

// Common errors returned by director operations
var (
	// ErrNotSynchronized indicates configuration has not been received from every source yet
	ErrNotSynchronized = errors.New("director: configuration not synchronized")

	// ErrTransitionInFlight indicates a run-level change is already being processed
	ErrTransitionInFlight = errors.New("director: transition in flight")

	// ErrUnknownRunlevel indicates a run-level name did not resolve
	ErrUnknownRunlevel = errors.New("director: unknown run level")

	// ErrSameRunlevel indicates the requested run level is already current
	ErrSameRunlevel = errors.New("director: already at run level")

	// ErrCheckpointDecode indicates the re-exec checkpoint is malformed
	ErrCheckpointDecode = errors.New("director: checkpoint decode")

	// ErrStatusDecode indicates a supervise status record is malformed
	ErrStatusDecode = errors.New("director: status decode")

	// ErrPrivilege indicates the original effective uid/gid could not be restored
	ErrPrivilege = errors.New("director: cannot restore privileges")

	// ErrUnsupported indicates the operation is not available on this platform
	ErrUnsupported = errors.New("director: unsupported on this platform")
)

// OpError represents an error from a director operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Subject is the provider, file or pid the operation acted on
	Subject string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("director %s %q: %v", e.Op.String(), e.Subject, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}
