package api

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when no task record exists for an id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrCancellationConflict is matched by every *CancellationConflictError.
	ErrCancellationConflict = errors.New("task can no longer be canceled")

	// ErrUnknownExecutionFailure is matched by every *ExecutionFailure.
	ErrUnknownExecutionFailure = errors.New("unknown execution failure")

	// ErrForbidden is returned when the requester is neither the owner of a
	// task nor privileged.
	ErrForbidden = errors.New("not allowed to act on this task")

	// ErrInvalidParams is returned by Submit for malformed input.
	ErrInvalidParams = errors.New("invalid task parameters")
)

// InvalidTransitionError reports an attempted status change that the
// transition table does not allow.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("can not change status from %s to %s for the task id %s", e.From, e.To, e.TaskID)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CancellationConflictError is returned by Cancel when the task already
// reached a status from which CANCELED is unreachable.
type CancellationConflictError struct {
	TaskID string
	Status Status
}

func (e *CancellationConflictError) Error() string {
	return fmt.Sprintf("task %s can not be canceled: status is %s", e.TaskID, e.Status)
}

func (e *CancellationConflictError) Is(target error) bool {
	return target == ErrCancellationConflict
}

// ExecutionFailure wraps anything a task body raised that is not a domain
// condition. Detail carries diagnostic text (a stack for recovered panics).
type ExecutionFailure struct {
	Err    error
	Detail string
}

func (e *ExecutionFailure) Error() string {
	if e.Err == nil {
		return ErrUnknownExecutionFailure.Error()
	}
	return e.Err.Error()
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

func (e *ExecutionFailure) Is(target error) bool {
	return target == ErrUnknownExecutionFailure
}

// IsDomainError reports whether err is a condition the execution engine
// handles locally instead of feeding into retry bookkeeping.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrInvalidTransition)
}
