package api

// Status represents the lifecycle state of a task record.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusRetryPending Status = "RETRY_PENDING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCanceled     Status = "CANCELED"
)

// Statuses lists every known status in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusRetryPending,
	StatusCompleted,
	StatusFailed,
	StatusCanceled,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusRetryPending,
		StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsFinished reports whether a record in this status carries a finish
// timestamp: every terminal status plus RETRY_PENDING.
func (s Status) IsFinished() bool {
	return s.IsTerminal() || s == StatusRetryPending
}

// targets returns the statuses reachable from s in one step.
// IN_PROGRESS -> IN_PROGRESS represents a fresh attempt of the same task.
func (s Status) targets() []Status {
	switch s {
	case StatusPending:
		return []Status{StatusInProgress, StatusCanceled}
	case StatusInProgress:
		return []Status{StatusInProgress, StatusFailed, StatusRetryPending, StatusCompleted, StatusCanceled}
	case StatusRetryPending:
		return []Status{StatusInProgress, StatusCanceled}
	default:
		return nil
	}
}

// CanTransition reports whether moving from 'from' to 'to' is allowed.
func CanTransition(from, to Status) bool {
	for _, t := range from.targets() {
		if t == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an *InvalidTransitionError when moving the task
// identified by taskID from 'from' to 'to' is not allowed. Callers must pass
// the status they just read from the store, never a cached value.
func ValidateTransition(taskID string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{TaskID: taskID, From: from, To: to}
}
