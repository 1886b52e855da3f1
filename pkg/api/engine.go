package api

import (
	"context"
)

// ListOptions narrows List results. Zero values mean "no filter".
type ListOptions struct {
	// Name matches the task name exactly.
	Name string
	// Search matches tasks whose name contains the value.
	Search string
}

// Engine is the task lifecycle API shared by collaborators and workers.
type Engine interface {
	// Submit validates req, creates a PENDING record and enqueues the first
	// attempt. It returns the new task id. When only the enqueue fails, the
	// id is returned together with the error.
	Submit(ctx context.Context, req SubmitRequest) (string, error)

	// Get returns the view of a task. Requesters that neither own the task
	// nor are privileged get ErrTaskNotFound.
	Get(ctx context.Context, id string, req Requester) (*TaskView, error)

	// List returns views ordered by name. Privileged requesters see every
	// task, others only their own.
	List(ctx context.Context, req Requester, opts ListOptions) ([]*TaskView, error)

	// Cancel revokes pending work for the task and moves it to CANCELED.
	// It returns a *CancellationConflictError when the task already reached
	// a terminal status and ErrForbidden for requesters without access.
	Cancel(ctx context.Context, id string, req Requester) (string, error)

	// Lookup returns the raw record, bypassing authorization.
	Lookup(ctx context.Context, id string) (*TaskRecord, error)

	// Start moves the task to IN_PROGRESS.
	Start(ctx context.Context, id string) (*TaskRecord, error)

	// Finish moves the task to a terminal or retry status, stamping the
	// finish time. result is stored only for COMPLETED.
	Finish(ctx context.Context, id string, to Status, result string) (*TaskRecord, error)

	// FinishWithError appends an error entry and performs the transition as
	// one atomic change; nothing is written when the transition is rejected.
	FinishWithError(ctx context.Context, id string, to Status, message, detail string) (*TaskRecord, error)

	// AddError appends an error entry regardless of status.
	AddError(ctx context.Context, id string, message, detail string) error
}
