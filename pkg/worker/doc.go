// Package worker executes task attempts.
//
// A Worker takes one work item at a time, moves the task to IN_PROGRESS,
// runs the task Body and records the outcome: COMPLETED on success, a new
// delayed attempt while retries remain, FAILED once they are used up.
//
// Losing a race against cancellation is expected. When Start or Finish is
// rejected because the task already reached another status, the attempt is
// dropped without further writes. A work item whose record no longer
// exists is dropped too.
//
// Workers pull from a taskqueue.Queue through ProcessOne and Run, or are
// driven by the asynq processor through Execute. Every record change goes
// through api.Engine, so any store backend works.
package worker
