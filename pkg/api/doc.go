// Package api contains the core building blocks used by the taskrun engine.
// It provides the task record model, the status transition table, the error
// taxonomy and the observer hooks shared by engines and workers.
//
// Most users interact with the higher-level taskrun package, which re-exports
// selected types and helpers from this package.
//
// # Status machine
//
// Every task starts PENDING. The only legal transitions are:
//
//	PENDING       -> IN_PROGRESS, CANCELED
//	IN_PROGRESS   -> IN_PROGRESS, FAILED, RETRY_PENDING, COMPLETED, CANCELED
//	RETRY_PENDING -> IN_PROGRESS, CANCELED
//
// COMPLETED, FAILED and CANCELED are terminal. ValidateTransition checks a
// single (from, to) pair and must be evaluated against the status read at
// the moment of mutation; stores do this inside a conditional update.
//
// # Errors
//
// Domain conditions (ErrTaskNotFound, ErrInvalidTransition) are handled
// locally by workers. Anything else a task body returns is an
// ExecutionFailure and drives retry bookkeeping. Cancel reports a
// CancellationConflictError when the task already settled.
//
// # Observability
//
// Observer receives lifecycle callbacks. LoggingObserver writes them through
// log/slog, BasicMetrics counts them and NewCompositeObserver fans out to
// several observers.
package api
