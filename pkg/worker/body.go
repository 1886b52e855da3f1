package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/taskrun/pkg/api"
)

// Body is the work a task performs. The returned string becomes the
// record's result on success. Any error other than a domain error is
// treated as an unknown execution failure and goes through retry handling.
type Body interface {
	Run(ctx context.Context, taskID string, p api.Params) (string, error)
}

// BodyFunc adapts an ordinary function to Body.
type BodyFunc func(ctx context.Context, taskID string, p api.Params) (string, error)

func (f BodyFunc) Run(ctx context.Context, taskID string, p api.Params) (string, error) {
	return f(ctx, taskID, p)
}

var (
	errRaisedBefore = errors.New("Manual exception before execution.")
	errRaisedAfter  = errors.New("Manual exception after execution.")
)

// SampleBody sleeps for Param1 units. Param2 set to api.RaiseBefore or
// api.RaiseAfter makes it fail before or after the sleep.
type SampleBody struct {
	// Unit is the length of one Param1 step. Zero means one second.
	Unit time.Duration
}

func (b SampleBody) Run(ctx context.Context, taskID string, p api.Params) (string, error) {
	if p.Param2 == api.RaiseBefore {
		return "", errRaisedBefore
	}

	unit := b.Unit
	if unit <= 0 {
		unit = time.Second
	}
	if d := time.Duration(p.Param1) * unit; d > 0 {
		tmr := time.NewTimer(d)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return "", ctx.Err()
		case <-tmr.C:
		}
	}

	if p.Param2 == api.RaiseAfter {
		return "", errRaisedAfter
	}
	return fmt.Sprintf("slept %d; param2=%q", p.Param1, p.Param2), nil
}
