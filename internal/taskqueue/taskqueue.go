package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/taskrun/pkg/api"
)

// DefaultPollInterval is how often polling queues look for due items.
const DefaultPollInterval = 20 * time.Millisecond

// Item is one scheduled execution attempt of a task.
type Item struct {
	// ID is unique per enqueue; TaskID is shared by every attempt of a task.
	ID     string
	TaskID string

	Params   api.Params
	Settings api.Settings

	// Retries is the number of retries consumed before this attempt.
	Retries int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this item should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time
}

// Attempt returns the 1-based attempt number this item represents.
func (it Item) Attempt() int { return it.Retries + 1 }

// MaxAttempts returns the total number of attempts the task may consume.
func (it Item) MaxAttempts() int { return it.Settings.MaxRetries + 1 }

// CanRetry reports whether another attempt may follow this one.
func (it Item) CanRetry() bool { return it.Retries < it.Settings.MaxRetries }

// Next returns the item for the following attempt, due after delay.
func (it Item) Next(id string, now time.Time, delay time.Duration) Item {
	next := it
	next.ID = id
	next.Retries++
	next.EnqueuedAt = now
	next.NotBefore = now.Add(delay)
	return next
}

// Scheduler is the enqueue/revoke primitive the engine depends on.
type Scheduler interface {
	// Enqueue schedules an item. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, it Item) error

	// Revoke drops every not-yet-dequeued item of the task. Revoking a task
	// with nothing scheduled is not an error.
	Revoke(ctx context.Context, taskID string) error
}

// Queue is a Scheduler that workers can pull from.
type Queue interface {
	Scheduler

	// Dequeue removes and returns the next due item, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Item, error)

	// Len returns the approximate number of items queued.
	Len() int
}

// Option configures polling queues.
type Option func(*queueOptions)

type queueOptions struct {
	pollInterval time.Duration
}

// WithPollInterval sets how often an idle Dequeue checks for due items.
func WithPollInterval(d time.Duration) Option {
	return func(o *queueOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func buildOptions(opts []Option) queueOptions {
	o := queueOptions{pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare fills in the item id and enqueue time when the caller left them
// empty.
func prepare(it Item, now time.Time) Item {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = now
	}
	return it
}

// dueAt returns the effective due time, applying the zero-value rule.
func dueAt(it Item, now time.Time) time.Time {
	if it.NotBefore.IsZero() {
		return now
	}
	return it.NotBefore
}

// newIdleTimer returns a stopped timer for reuse across idle polls.
func newIdleTimer() *time.Timer {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	return tmr
}

// sleep waits for d on tmr or until ctx is done.
func sleep(ctx context.Context, tmr *time.Timer, d time.Duration) error {
	tmr.Reset(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			select {
			case <-tmr.C:
			default:
			}
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
