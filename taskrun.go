package taskrun

import (
	"context"
	"time"

	"github.com/petrijr/taskrun/pkg/api"
	workerpkg "github.com/petrijr/taskrun/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	TaskRecord           = api.TaskRecord
	TaskError            = api.TaskError
	TaskView             = api.TaskView
	Status               = api.Status
	Params               = api.Params
	Options              = api.Options
	Settings             = api.Settings
	SubmitRequest        = api.SubmitRequest
	Requester            = api.Requester
	ListOptions          = api.ListOptions
	Authorizer           = api.Authorizer
	AuthorizerFunc       = api.AuthorizerFunc
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	Attempt              = api.Attempt

	InvalidTransitionError    = api.InvalidTransitionError
	CancellationConflictError = api.CancellationConflictError

	WorkerConfig = workerpkg.Config
	Body         = workerpkg.Body
	BodyFunc     = workerpkg.BodyFunc
	SampleBody   = workerpkg.SampleBody
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	Int                  = api.Int
	DefaultSettings      = api.DefaultSettings
)

// Sample body parameter values that force a failure.

const (
	RaiseBefore = api.RaiseBefore
	RaiseAfter  = api.RaiseAfter
)

// Re-export status values for convenience.

const (
	StatusPending      = api.StatusPending
	StatusInProgress   = api.StatusInProgress
	StatusRetryPending = api.StatusRetryPending
	StatusCompleted    = api.StatusCompleted
	StatusFailed       = api.StatusFailed
	StatusCanceled     = api.StatusCanceled
)

// Re-export sentinel errors.

var (
	ErrTaskNotFound         = api.ErrTaskNotFound
	ErrInvalidTransition    = api.ErrInvalidTransition
	ErrCancellationConflict = api.ErrCancellationConflict
	ErrForbidden            = api.ErrForbidden
	ErrInvalidParams        = api.ErrInvalidParams
)

// DefaultAwaitInterval is how often Await polls the record.
const DefaultAwaitInterval = 20 * time.Millisecond

// Await polls the task until it reaches a terminal status or ctx is done.
// It returns the last record read.
func Await(ctx context.Context, eng Engine, id string) (*TaskRecord, error) {
	tk := time.NewTicker(DefaultAwaitInterval)
	defer tk.Stop()

	for {
		rec, err := eng.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-tk.C:
		}
	}
}
