package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Attempt describes one execution of a task body.
type Attempt struct {
	TaskID string
	// Number starts at 1.
	Number int
	// Max is MaxRetries + 1.
	Max int
}

// Observer receives callbacks from the engine and workers for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay task execution.
type Observer interface {
	// OnTaskSubmitted is called after a record is created and its first
	// attempt enqueued.
	OnTaskSubmitted(ctx context.Context, rec *TaskRecord)

	// OnAttemptStart is called before the worker tries to start a task.
	OnAttemptStart(ctx context.Context, a Attempt)

	// OnTaskCompleted is called when a task reaches COMPLETED.
	OnTaskCompleted(ctx context.Context, rec *TaskRecord)

	// OnTaskRetry is called after RETRY_PENDING is persisted, before the next
	// attempt is enqueued.
	OnTaskRetry(ctx context.Context, rec *TaskRecord, a Attempt, err error)

	// OnTaskFailed is called when a task reaches FAILED.
	OnTaskFailed(ctx context.Context, rec *TaskRecord, err error)

	// OnTaskCanceled is called when Cancel wins.
	OnTaskCanceled(ctx context.Context, rec *TaskRecord)

	// OnTransitionRejected is called when a worker drops an attempt because
	// the transition it needed was no longer legal.
	OnTransitionRejected(ctx context.Context, taskID string, err error)

	// OnTaskMissing is called when a work item refers to a record that no
	// longer exists.
	OnTaskMissing(ctx context.Context, taskID string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTaskSubmitted(ctx context.Context, rec *TaskRecord)                   {}
func (NoopObserver) OnAttemptStart(ctx context.Context, a Attempt)                          {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, rec *TaskRecord)                   {}
func (NoopObserver) OnTaskRetry(ctx context.Context, rec *TaskRecord, a Attempt, err error) {}
func (NoopObserver) OnTaskFailed(ctx context.Context, rec *TaskRecord, err error)           {}
func (NoopObserver) OnTaskCanceled(ctx context.Context, rec *TaskRecord)                    {}
func (NoopObserver) OnTransitionRejected(ctx context.Context, taskID string, err error)     {}
func (NoopObserver) OnTaskMissing(ctx context.Context, taskID string)                       {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTaskSubmitted(ctx context.Context, rec *TaskRecord) {
	for _, o := range c.observers {
		o.OnTaskSubmitted(ctx, rec)
	}
}

func (c *CompositeObserver) OnAttemptStart(ctx context.Context, a Attempt) {
	for _, o := range c.observers {
		o.OnAttemptStart(ctx, a)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, rec *TaskRecord) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, rec)
	}
}

func (c *CompositeObserver) OnTaskRetry(ctx context.Context, rec *TaskRecord, a Attempt, err error) {
	for _, o := range c.observers {
		o.OnTaskRetry(ctx, rec, a, err)
	}
}

func (c *CompositeObserver) OnTaskFailed(ctx context.Context, rec *TaskRecord, err error) {
	for _, o := range c.observers {
		o.OnTaskFailed(ctx, rec, err)
	}
}

func (c *CompositeObserver) OnTaskCanceled(ctx context.Context, rec *TaskRecord) {
	for _, o := range c.observers {
		o.OnTaskCanceled(ctx, rec)
	}
}

func (c *CompositeObserver) OnTransitionRejected(ctx context.Context, taskID string, err error) {
	for _, o := range c.observers {
		o.OnTransitionRejected(ctx, taskID, err)
	}
}

func (c *CompositeObserver) OnTaskMissing(ctx context.Context, taskID string) {
	for _, o := range c.observers {
		o.OnTaskMissing(ctx, taskID)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs task lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTaskSubmitted(ctx context.Context, rec *TaskRecord) {
	o.Logger.InfoContext(ctx, "task_submitted",
		slog.String("task_id", rec.ID),
		slog.String("name", rec.Name),
		slog.String("owner", rec.Owner),
	)
}

// OnAttemptStart logs the first attempt at Info and every retry at Warn.
func (o *LoggingObserver) OnAttemptStart(ctx context.Context, a Attempt) {
	level := slog.LevelInfo
	if a.Number > 1 {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "attempt_start",
		slog.String("task_id", a.TaskID),
		slog.Int("attempt", a.Number),
		slog.Int("max_attempts", a.Max),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, rec *TaskRecord) {
	o.Logger.InfoContext(ctx, "task_completed",
		slog.String("task_id", rec.ID),
		slog.String("name", rec.Name),
	)
}

func (o *LoggingObserver) OnTaskRetry(ctx context.Context, rec *TaskRecord, a Attempt, err error) {
	o.Logger.WarnContext(ctx, "task_retry_scheduled",
		slog.String("task_id", rec.ID),
		slog.Int("attempt", a.Number),
		slog.Int("max_attempts", a.Max),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskFailed(ctx context.Context, rec *TaskRecord, err error) {
	o.Logger.ErrorContext(ctx, "task_failed",
		slog.String("task_id", rec.ID),
		slog.String("name", rec.Name),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskCanceled(ctx context.Context, rec *TaskRecord) {
	o.Logger.InfoContext(ctx, "task_canceled",
		slog.String("task_id", rec.ID),
		slog.String("name", rec.Name),
	)
}

func (o *LoggingObserver) OnTransitionRejected(ctx context.Context, taskID string, err error) {
	o.Logger.WarnContext(ctx, "transition_rejected",
		slog.String("task_id", taskID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskMissing(ctx context.Context, taskID string) {
	o.Logger.WarnContext(ctx, "task_missing",
		slog.String("task_id", taskID),
	)
}

// BasicMetrics collects simple lifecycle counters. It implements Observer,
// and can be combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	submitted atomic.Int64
	attempts  atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	canceled  atomic.Int64
	rejected  atomic.Int64
	missing   atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Submitted int64
	Attempts  int64
	Completed int64
	Retried   int64
	Failed    int64
	Canceled  int64
	Rejected  int64
	Missing   int64

	// Outstanding counts submitted tasks that have not settled yet.
	Outstanding int64
}

func (m *BasicMetrics) OnTaskSubmitted(ctx context.Context, rec *TaskRecord) { m.submitted.Add(1) }
func (m *BasicMetrics) OnAttemptStart(ctx context.Context, a Attempt)        { m.attempts.Add(1) }
func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, rec *TaskRecord) { m.completed.Add(1) }
func (m *BasicMetrics) OnTaskRetry(ctx context.Context, rec *TaskRecord, a Attempt, err error) {
	m.retried.Add(1)
}
func (m *BasicMetrics) OnTaskFailed(ctx context.Context, rec *TaskRecord, err error) { m.failed.Add(1) }
func (m *BasicMetrics) OnTaskCanceled(ctx context.Context, rec *TaskRecord)          { m.canceled.Add(1) }
func (m *BasicMetrics) OnTransitionRejected(ctx context.Context, taskID string, err error) {
	m.rejected.Add(1)
}
func (m *BasicMetrics) OnTaskMissing(ctx context.Context, taskID string) { m.missing.Add(1) }

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	s := BasicMetricsSnapshot{
		Submitted: m.submitted.Load(),
		Attempts:  m.attempts.Load(),
		Completed: m.completed.Load(),
		Retried:   m.retried.Load(),
		Failed:    m.failed.Load(),
		Canceled:  m.canceled.Load(),
		Rejected:  m.rejected.Load(),
		Missing:   m.missing.Load(),
	}
	s.Outstanding = s.Submitted - s.Completed - s.Failed - s.Canceled
	return s
}
