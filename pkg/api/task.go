package api

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultCountdown is the delay, in seconds, before a retried attempt.
	DefaultCountdown = 60

	// DefaultMaxRetries is the number of retries allowed after the first attempt.
	DefaultMaxRetries = 0

	// MaxNameLength bounds TaskRecord.Name.
	MaxNameLength = 36
)

// Sample body parameter values that force a failure around the sleep.
const (
	RaiseBefore = "raise exception before"
	RaiseAfter  = "raise exception after"
)

// TaskRecord is the durable status record of one submitted task.
// It is mutated only through the store's transition and error operations.
type TaskRecord struct {
	ID         string
	Owner      string
	Name       string
	Status     Status
	Result     string
	CreatedAt  time.Time
	FinishedAt *time.Time

	// Errors is the append-only error history, oldest first.
	Errors []TaskError
}

// TaskError records one failed attempt.
type TaskError struct {
	Message   string
	Detail    string
	CreatedAt time.Time
}

// Clone returns a deep copy, so callers can hand records out without
// sharing mutable state with a store.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.Errors != nil {
		c.Errors = make([]TaskError, len(r.Errors))
		copy(c.Errors, r.Errors)
	}
	return &c
}

// Params is the parameter bundle handed to the task body.
type Params struct {
	// Param1 is the sleep duration, in delay units.
	Param1 int
	Param2 string
}

// Options tunes retry behavior. Nil fields fall back to the defaults.
type Options struct {
	Countdown  *int
	MaxRetries *int
}

// Int returns a pointer to n, for filling Options.
func Int(n int) *int { return &n }

// Settings are Options with defaults applied.
type Settings struct {
	Countdown  int
	MaxRetries int
}

// Resolve applies defaults to unset options.
func (o Options) Resolve(defaults Settings) Settings {
	s := defaults
	if o.Countdown != nil {
		s.Countdown = *o.Countdown
	}
	if o.MaxRetries != nil {
		s.MaxRetries = *o.MaxRetries
	}
	return s
}

// DefaultSettings returns the built-in countdown and retry defaults.
func DefaultSettings() Settings {
	return Settings{Countdown: DefaultCountdown, MaxRetries: DefaultMaxRetries}
}

// SubmitRequest describes a new task.
type SubmitRequest struct {
	Name    string
	Owner   string
	Params  Params
	Options Options
}

// Validate checks the request shape; it returns an error wrapping
// ErrInvalidParams.
func (r SubmitRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidParams)
	case len(r.Name) > MaxNameLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidParams, MaxNameLength)
	case r.Owner == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidParams)
	case r.Params.Param1 < 0:
		return fmt.Errorf("%w: param1 must be >= 0", ErrInvalidParams)
	case r.Options.Countdown != nil && *r.Options.Countdown < 0:
		return fmt.Errorf("%w: countdown must be >= 0", ErrInvalidParams)
	case r.Options.MaxRetries != nil && *r.Options.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidParams)
	}
	return nil
}
