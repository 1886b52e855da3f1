package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/taskrun/internal/taskqueue"
	"github.com/petrijr/taskrun/pkg/api"
)

// ErrNoQueue is returned by ProcessOne and Run on a Worker built without a
// queue.
var ErrNoQueue = errors.New("worker: no queue to pull from")

// emptyResult is recorded for a successful body that returned no result, so a
// COMPLETED record always carries one.
const emptyResult = "completed"

// Config tunes a Worker. Zero values pick the defaults.
type Config struct {
	// Concurrency is the number of attempts Run executes in parallel.
	// Default 1.
	Concurrency int

	// DelayUnit is the length of one countdown step. Default one second.
	DelayUnit time.Duration

	Observer api.Observer

	// Body runs each attempt. Default SampleBody with DelayUnit as its unit.
	Body Body

	// Logger receives errors Run can't return. Default slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Worker pulls work items from a queue and executes them using an Engine.
type Worker struct {
	engine    api.Engine
	scheduler taskqueue.Scheduler
	queue     taskqueue.Queue

	concurrency int
	delayUnit   time.Duration
	observer    api.Observer
	body        Body
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Worker with default config.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker that pulls from queue and schedules
// retries back onto it.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	w := NewExecutor(engine, queue, cfg)
	w.queue = queue
	return w
}

// NewExecutor creates a Worker for deliveries pushed by another component,
// such as the asynq processor. Retries go to scheduler; ProcessOne and Run
// are not available.
func NewExecutor(engine api.Engine, scheduler taskqueue.Scheduler, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DelayUnit <= 0 {
		cfg.DelayUnit = time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Body == nil {
		cfg.Body = SampleBody{Unit: cfg.DelayUnit}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Worker{
		engine:      engine,
		scheduler:   scheduler,
		concurrency: cfg.Concurrency,
		delayUnit:   cfg.DelayUnit,
		observer:    cfg.Observer,
		body:        cfg.Body,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}
}

// ProcessOne pulls a single item from the queue and executes it.
// Returns (processed, error):
//   - processed == false: nothing was dequeued; err says why (usually ctx).
//   - processed == true: an attempt ran; err reports infrastructure
//     failures only, never the body's own error.
//
// The attempt runs to completion even if ctx is cancelled after dequeue.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	if w.queue == nil {
		return false, ErrNoQueue
	}
	it, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if it == nil {
		return false, nil
	}
	return true, w.Execute(context.WithoutCancel(ctx), *it)
}

// Run executes items with the configured concurrency until ctx is
// cancelled, then waits for in-flight attempts to finish.
func (w *Worker) Run(ctx context.Context) error {
	if w.queue == nil {
		return ErrNoQueue
	}

	var wg sync.WaitGroup
	wg.Add(w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				_, err := w.ProcessOne(ctx)
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				// One bad item must not stop the loop.
				w.logger.ErrorContext(ctx, "worker_error", slog.Any("error", err))
			}
		}()
	}
	wg.Wait()
	return nil
}

// Execute runs one attempt described by it and records its outcome.
// Missing records and rejected transitions are dropped and yield nil.
func (w *Worker) Execute(ctx context.Context, it taskqueue.Item) error {
	attempt := api.Attempt{TaskID: it.TaskID, Number: it.Attempt(), Max: it.MaxAttempts()}

	if _, err := w.engine.Lookup(ctx, it.TaskID); err != nil {
		if errors.Is(err, api.ErrTaskNotFound) {
			w.observer.OnTaskMissing(ctx, it.TaskID)
			return nil
		}
		return fmt.Errorf("lookup task %s: %w", it.TaskID, err)
	}

	w.observer.OnAttemptStart(ctx, attempt)

	if _, err := w.engine.Start(ctx, it.TaskID); err != nil {
		return w.drop(ctx, it.TaskID, err)
	}

	result, runErr := w.run(ctx, it)
	if runErr == nil {
		if result == "" {
			result = emptyResult
		}
		rec, err := w.engine.Finish(ctx, it.TaskID, api.StatusCompleted, result)
		if err != nil {
			return w.drop(ctx, it.TaskID, err)
		}
		w.observer.OnTaskCompleted(ctx, rec)
		return nil
	}
	if api.IsDomainError(runErr) {
		return w.drop(ctx, it.TaskID, runErr)
	}

	failure := asFailure(runErr)
	if it.CanRetry() {
		return w.retry(ctx, it, attempt, failure)
	}

	rec, err := w.engine.FinishWithError(ctx, it.TaskID, api.StatusFailed, failure.Error(), failure.Detail)
	if err != nil {
		return w.drop(ctx, it.TaskID, err)
	}
	w.observer.OnTaskFailed(ctx, rec, failure)
	return nil
}

// retry records the failure, parks the task in RETRY_PENDING and schedules
// the next attempt after the countdown.
func (w *Worker) retry(ctx context.Context, it taskqueue.Item, attempt api.Attempt, failure *api.ExecutionFailure) error {
	rec, err := w.engine.FinishWithError(ctx, it.TaskID, api.StatusRetryPending, failure.Error(), failure.Detail)
	if err != nil {
		return w.drop(ctx, it.TaskID, err)
	}
	w.observer.OnTaskRetry(ctx, rec, attempt, failure)

	delay := time.Duration(it.Settings.Countdown) * w.delayUnit
	next := it.Next(uuid.NewString(), w.now(), delay)
	if err := w.scheduler.Enqueue(ctx, next); err != nil {
		// The record stays RETRY_PENDING and can still be canceled.
		_ = w.engine.AddError(ctx, it.TaskID, "re-enqueue failed: "+err.Error(), "")
		return fmt.Errorf("re-enqueue task %s: %w", it.TaskID, err)
	}
	return nil
}

// drop handles an error from an engine call. Domain errors end the attempt
// quietly; anything else is returned.
func (w *Worker) drop(ctx context.Context, taskID string, err error) error {
	switch {
	case errors.Is(err, api.ErrTaskNotFound):
		w.observer.OnTaskMissing(ctx, taskID)
		return nil
	case errors.Is(err, api.ErrInvalidTransition):
		w.observer.OnTransitionRejected(ctx, taskID, err)
		return nil
	}
	return fmt.Errorf("task %s: %w", taskID, err)
}

// run executes the body, turning a panic into an execution failure.
func (w *Worker) run(ctx context.Context, it taskqueue.Item) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.ExecutionFailure{
				Err:    fmt.Errorf("panic: %v", r),
				Detail: string(debug.Stack()),
			}
		}
	}()
	return w.body.Run(ctx, it.TaskID, it.Params)
}

func asFailure(err error) *api.ExecutionFailure {
	var f *api.ExecutionFailure
	if errors.As(err, &f) {
		return f
	}
	return &api.ExecutionFailure{Err: err, Detail: fmt.Sprintf("%T: %v", err, err)}
}
