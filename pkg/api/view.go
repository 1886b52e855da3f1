package api

import (
	"context"
	"time"
)

// TaskView is the read-only projection handed to collaborators. Fields that
// are meaningless for the current status are left empty.
type TaskView struct {
	ID         string      `json:"uuid"`
	Name       string      `json:"name"`
	Owner      string      `json:"user"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Result     *string     `json:"result,omitempty"`
	Errors     []ErrorView `json:"errors,omitempty"`
}

// ErrorView is the public form of a TaskError; the diagnostic detail stays
// internal.
type ErrorView struct {
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskView projects rec, suppressing result unless COMPLETED,
// finished_at unless finished, and errors unless FAILED or RETRY_PENDING.
func NewTaskView(rec *TaskRecord) *TaskView {
	v := &TaskView{
		ID:        rec.ID,
		Name:      rec.Name,
		Owner:     rec.Owner,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Status == StatusCompleted {
		result := rec.Result
		v.Result = &result
	}
	if rec.Status.IsFinished() && rec.FinishedAt != nil {
		t := *rec.FinishedAt
		v.FinishedAt = &t
	}
	if rec.Status == StatusFailed || rec.Status == StatusRetryPending {
		v.Errors = make([]ErrorView, 0, len(rec.Errors))
		for _, e := range rec.Errors {
			v.Errors = append(v.Errors, ErrorView{Message: e.Message, CreatedAt: e.CreatedAt})
		}
	}
	return v
}

// Requester identifies the caller of a read or cancel operation.
type Requester struct {
	ID         string
	Privileged bool
}

// Access is the relation between a requester and a task.
type Access int

const (
	AccessNone Access = iota
	AccessOwner
	AccessPrivileged
)

// Authorizer decides how a requester relates to a task record.
type Authorizer interface {
	Access(ctx context.Context, req Requester, rec *TaskRecord) Access
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, req Requester, rec *TaskRecord) Access

func (f AuthorizerFunc) Access(ctx context.Context, req Requester, rec *TaskRecord) Access {
	return f(ctx, req, rec)
}

// OwnerAuthorizer grants privileged requesters everything and owners their
// own tasks.
var OwnerAuthorizer Authorizer = AuthorizerFunc(func(_ context.Context, req Requester, rec *TaskRecord) Access {
	switch {
	case req.Privileged:
		return AccessPrivileged
	case req.ID != "" && req.ID == rec.Owner:
		return AccessOwner
	default:
		return AccessNone
	}
})
