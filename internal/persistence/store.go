package persistence

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/petrijr/taskrun/pkg/api"
)

var (
	// ErrTaskExists is returned by CreateTask for a duplicate id.
	ErrTaskExists = errors.New("task already exists")

	// ErrContention is returned when a conditional update keeps losing to
	// concurrent writers.
	ErrContention = errors.New("task record updated concurrently too many times")
)

// maxCASRetries bounds the read-validate-write loop of Transition.
const maxCASRetries = 16

// TaskFilter is used to select records from the store.
// Empty fields mean "no filter" for that field.
type TaskFilter struct {
	Owner  string
	Name   string
	Search string
}

// Match reports whether rec passes the filter.
func (f TaskFilter) Match(rec *api.TaskRecord) bool {
	if f.Owner != "" && rec.Owner != f.Owner {
		return false
	}
	if f.Name != "" && rec.Name != f.Name {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(rec.Name), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// Transition describes one status change.
type Transition struct {
	To api.Status
	At time.Time

	// From, if non-empty, further restricts the statuses the change may
	// start from.
	From []api.Status

	// Result is stored when To is COMPLETED.
	Result string

	// Error, if set, is appended in the same atomic change.
	Error *api.TaskError
}

// TaskStore owns persisted task records and their error history.
// Implementations must be safe for concurrent use.
type TaskStore interface {
	CreateTask(ctx context.Context, rec *api.TaskRecord) error
	GetTask(ctx context.Context, id string) (*api.TaskRecord, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*api.TaskRecord, error)

	// Transition reads the current status, validates the change against it
	// and writes it only if the status is still the one read. A lost race is
	// retried against the newer status, so the loser observes an
	// *api.InvalidTransitionError once the change is no longer legal.
	Transition(ctx context.Context, id string, tr Transition) (*api.TaskRecord, error)

	// AppendError adds an error entry without touching status.
	AppendError(ctx context.Context, id string, e api.TaskError) error
}

// applyTransition validates tr against rec's current status and mutates rec
// in place, keeping finished_at and result consistent with the new status.
func applyTransition(rec *api.TaskRecord, tr Transition) error {
	if err := api.ValidateTransition(rec.ID, rec.Status, tr.To); err != nil {
		return err
	}
	if len(tr.From) > 0 && !slices.Contains(tr.From, rec.Status) {
		return &api.InvalidTransitionError{TaskID: rec.ID, From: rec.Status, To: tr.To}
	}
	rec.Status = tr.To
	if tr.To.IsFinished() {
		at := tr.At
		rec.FinishedAt = &at
	} else {
		rec.FinishedAt = nil
	}
	if tr.To == api.StatusCompleted {
		rec.Result = tr.Result
	} else {
		rec.Result = ""
	}
	if tr.Error != nil {
		rec.Errors = append(rec.Errors, *tr.Error)
	}
	return nil
}

// sortTasks orders records by name, then creation time, then id.
func sortTasks(recs []*api.TaskRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
