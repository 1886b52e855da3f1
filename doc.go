// Package taskrun runs submitted tasks in the background and tracks each
// one through a small, strictly enforced status lifecycle.
//
// # Core Concepts
//
// A task is submitted with a name, an owner and a parameter bundle. The
// engine stores a PENDING record and enqueues the first attempt. Workers
// pull attempts, move the record to IN_PROGRESS, run the task body and
// record the outcome:
//
//	PENDING       -> IN_PROGRESS | CANCELED
//	IN_PROGRESS   -> COMPLETED | FAILED | RETRY_PENDING | CANCELED
//	RETRY_PENDING -> IN_PROGRESS | CANCELED
//
// COMPLETED, FAILED and CANCELED are terminal.
//
// # Retries
//
// A body failure with retries left appends an error entry, parks the task
// in RETRY_PENDING and schedules the next attempt after a fixed countdown.
// Once retries are used up the task becomes FAILED. Every attempt shares
// the task id, so one record carries the full error history.
//
// # Cancellation
//
// Engine.Cancel revokes attempts that have not started and moves the task
// to CANCELED. It races running attempts safely: every status change is a
// compare-and-set against the freshly read status, so exactly one side
// wins. A cancel that loses returns a *CancellationConflictError naming the
// status the task reached. A worker that loses drops its attempt.
//
// # Backends
//
// Records and queued attempts can live in:
//
//   - memory (NewInMemory, LocalRunner)
//   - SQLite (NewSQLite)
//   - Postgres (NewPostgres)
//   - Redis (NewRedis)
//   - MongoDB (NewMongo)
//
// The cmd/taskrun binary can also schedule attempts through asynq.
//
// # Observability
//
// Engine and worker report lifecycle events to an Observer.
// NewLoggingObserver logs them with log/slog; BasicMetrics counts them.
package taskrun
