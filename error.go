package pipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error provides rich context about pipe execution failures.
// It wraps the underlying error with the path of named components the
// failure bubbled through, the store that was being processed, and timing
// information.
type Error struct {
	Timestamp  time.Time
	InputStore Store
	Err        error
	Path       []Name
	Duration   time.Duration
	Timeout    bool
	Canceled   bool
}

// Error implements the error interface, providing a detailed error message.
func (e *Error) Error() string {
	location := strings.Join(e.Path, " -> ")
	if location == "" {
		location = "unknown"
	}

	if e.Timeout {
		return fmt.Sprintf("%s timed out after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the failure was caused by a timeout.
func (e *Error) IsTimeout() bool {
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled returns true if the failure was caused by cancellation.
func (e *Error) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// ValidationError reports that a step's required-field schema was not
// satisfied by the current store. It always propagates out of Run unless an
// enclosing And/Or composition recovers from it.
type ValidationError struct {
	Step  Name
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation for step %q failed: %v", e.Step, e.Cause)
}

// Unwrap returns the underlying validator error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ExecutionError reports that a step has no runnable capability body.
// It always propagates.
type ExecutionError struct {
	Step         Name
	Capabilities []Capability
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	allowed := make([]string, len(e.Capabilities))
	for i, c := range e.Capabilities {
		allowed[i] = string(c)
	}
	return fmt.Sprintf("step %q must provide one of these capabilities: %s", e.Step, strings.Join(allowed, ","))
}

// wrapError folds a step error into an *Error carrying name's path entry.
// Existing *Error values get name prepended to their path; plain errors are
// wrapped fresh. The input store and timestamp describe the failing call.
func wrapError(name Name, err error, input Store, at time.Time, elapsed time.Duration) *Error {
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		pipeErr.Path = append([]Name{name}, pipeErr.Path...)
		return pipeErr
	}
	return &Error{
		Timestamp:  at,
		InputStore: input,
		Err:        err,
		Path:       []Name{name},
		Duration:   elapsed,
		Timeout:    errors.Is(err, context.DeadlineExceeded),
		Canceled:   errors.Is(err, context.Canceled),
	}
}
