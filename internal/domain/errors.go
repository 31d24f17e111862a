package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidOp       = errors.New("invalid op: must be create, update, or delete")
	ErrInvalidDomain   = errors.New("domain must not be empty")
	ErrInvalidOwner    = errors.New("owner_id must not be empty")
	ErrMissingEntityID = errors.New("entity_id is required for update and delete")
	ErrNoExecutor      = errors.New("no executor registered for domain")
)

// FailureClass partitions executor failures by how the outbox reacts.
type FailureClass string

const (
	// FailureTransient covers network errors, timeouts and 5xx-class
	// responses. Retried with backoff up to the item's attempt limit.
	FailureTransient FailureClass = "transient"
	// FailureConflict is an optimistic-lock rejection: the remote entity
	// changed since the local mutation was derived. Terminal, remote wins.
	FailureConflict FailureClass = "conflict"
	// FailurePermanent is a validation-class rejection. Never retried.
	FailurePermanent FailureClass = "permanent"
)

// ExecutionError is a classified failure returned by an executor.
// StatusCode is zero when no HTTP status is available (transport errors).
type ExecutionError struct {
	Class      FailureClass
	StatusCode int
	Msg        string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Class, e.Msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func NewTransientError(statusCode int, msg string, err error) *ExecutionError {
	return &ExecutionError{Class: FailureTransient, StatusCode: statusCode, Msg: msg, Err: err}
}

func NewConflictError(statusCode int, msg string) *ExecutionError {
	return &ExecutionError{Class: FailureConflict, StatusCode: statusCode, Msg: msg}
}

func NewPermanentError(statusCode int, msg string) *ExecutionError {
	return &ExecutionError{Class: FailurePermanent, StatusCode: statusCode, Msg: msg}
}
