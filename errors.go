package genqueue

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("genqueue: no store configured")
	ErrStoreClosed = errors.New("genqueue: store closed")

	// Request errors.
	ErrValidation      = errors.New("genqueue: invalid request")
	ErrUnauthenticated = errors.New("genqueue: unauthenticated")
	ErrForbidden       = errors.New("genqueue: forbidden")
	ErrRateLimited     = errors.New("genqueue: rate limited")

	// Not found errors.
	ErrJobNotFound = errors.New("genqueue: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("genqueue: job already exists")

	// State errors.
	ErrInvalidState = errors.New("genqueue: invalid state transition")
	ErrNotStarted   = errors.New("genqueue: dispatcher not started")
)

// ExecutionKind classifies why an execution failed.
type ExecutionKind string

const (
	// KindEngine means the generation engine reported an error.
	KindEngine ExecutionKind = "engine"
	// KindTimeout means the job exceeded its wall clock limit.
	KindTimeout ExecutionKind = "timeout"
	// KindInterrupted means the process stopped while the job was running.
	KindInterrupted ExecutionKind = "interrupted"
)

// ExecutionError is returned by the execution adapter. It is recorded on
// the job and never surfaced to API callers.
type ExecutionError struct {
	Kind ExecutionKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err with the given kind.
func NewExecutionError(kind ExecutionKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

// Timeout builds the error recorded when a job exceeds its limit.
func Timeout(limit time.Duration) *ExecutionError {
	return &ExecutionError{Kind: KindTimeout, Err: fmt.Errorf("job timed out after %s", limit)}
}
