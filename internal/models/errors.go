package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors surfaced by the scheduling core.
type ErrorKind string

const (
	ErrInvalidDAG              ErrorKind = "INVALID_DAG"
	ErrUnknownWorkflow         ErrorKind = "UNKNOWN_WORKFLOW"
	ErrUnknownJob              ErrorKind = "UNKNOWN_JOB"
	ErrInvalidTransition       ErrorKind = "INVALID_TRANSITION"
	ErrRunnerCrash             ErrorKind = "RUNNER_CRASH"
	ErrSkippedDueToPredecessor ErrorKind = "SKIPPED_DUE_TO_PREDECESSOR"
	ErrCancelledByRequest      ErrorKind = "CANCELLED_BY_REQUEST"
	ErrCancelledByFailure      ErrorKind = "CANCELLED_BY_FAILURE"

	// Reserved for future quota extensions; never emitted today.
	ErrTenantRejected ErrorKind = "TENANT_REJECTED"
)

// DomainError carries an error kind alongside a human-readable message.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a DomainError with a formatted message
func NewError(kind ErrorKind, format string, args ...interface{}) error {
	return &DomainError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the ErrorKind from an error, or "" if it is not a DomainError
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
