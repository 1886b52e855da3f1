package worker

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/taskrun/internal/engine"
	"github.com/petrijr/taskrun/internal/persistence"
	"github.com/petrijr/taskrun/internal/taskqueue"
	"github.com/petrijr/taskrun/pkg/api"
)

var owner = api.Requester{ID: "alice"}

type harness struct {
	engine  api.Engine
	queue   *taskqueue.InMemoryQueue
	metrics *api.BasicMetrics
	worker  *Worker
}

type storeFactory func(t *testing.T) persistence.TaskStore

func inMemoryStore(t *testing.T) persistence.TaskStore {
	t.Helper()
	return persistence.NewInMemoryStore()
}

func sqliteStore(t *testing.T) persistence.TaskStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := persistence.NewSQLiteTaskStore(db)
	require.NoError(t, err)
	return store
}

func newHarness(t *testing.T, store persistence.TaskStore, cfg Config) *harness {
	t.Helper()

	q := taskqueue.NewInMemoryQueue()
	metrics := &api.BasicMetrics{}
	eng := engine.NewEngine(engine.Config{
		Store:     store,
		Scheduler: q,
		Observer:  metrics,
	})
	if cfg.DelayUnit == 0 {
		cfg.DelayUnit = time.Millisecond
	}
	cfg.Observer = metrics
	return &harness{
		engine:  eng,
		queue:   q,
		metrics: metrics,
		worker:  NewWithConfig(eng, q, cfg),
	}
}

func (h *harness) submit(t *testing.T, p api.Params, opts api.Options) string {
	t.Helper()
	id, err := h.engine.Submit(context.Background(), api.SubmitRequest{
		Name:    "job",
		Owner:   owner.ID,
		Params:  p,
		Options: opts,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) processOne(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	processed, err := h.worker.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
}

func (h *harness) lookup(t *testing.T, id string) *api.TaskRecord {
	t.Helper()
	rec, err := h.engine.Lookup(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestWorker_Scenarios(t *testing.T) {
	factories := map[string]storeFactory{
		"in-memory": inMemoryStore,
		"sqlite":    sqliteStore,
	}

	for name, factory := range factories {
		t.Run(name+"/fail before sleep without retries", func(t *testing.T) {
			h := newHarness(t, factory(t), Config{})
			id := h.submit(t, api.Params{Param1: 0, Param2: api.RaiseBefore}, api.Options{MaxRetries: api.Int(0)})

			h.processOne(t)

			rec := h.lookup(t, id)
			require.Equal(t, api.StatusFailed, rec.Status)
			require.NotNil(t, rec.FinishedAt)
			require.Empty(t, rec.Result)
			require.Len(t, rec.Errors, 1)
			require.Equal(t, "Manual exception before execution.", rec.Errors[0].Message)
			require.Zero(t, h.queue.Len())
		})

		t.Run(name+"/success", func(t *testing.T) {
			var seen api.Status
			var eng api.Engine
			body := BodyFunc(func(ctx context.Context, taskID string, p api.Params) (string, error) {
				rec, err := eng.Lookup(ctx, taskID)
				if err != nil {
					return "", err
				}
				seen = rec.Status
				return SampleBody{Unit: time.Millisecond}.Run(ctx, taskID, p)
			})
			h := newHarness(t, factory(t), Config{Body: body})
			eng = h.engine
			id := h.submit(t, api.Params{Param1: 1, Param2: "ok"}, api.Options{})
			require.Equal(t, api.StatusPending, h.lookup(t, id).Status)

			h.processOne(t)

			require.Equal(t, api.StatusInProgress, seen)
			rec := h.lookup(t, id)
			require.Equal(t, api.StatusCompleted, rec.Status)
			require.NotEmpty(t, rec.Result)
			require.NotNil(t, rec.FinishedAt)
			require.Empty(t, rec.Errors)
			require.Equal(t, int64(1), h.metrics.Snapshot().Completed)
		})

		t.Run(name+"/fail after sleep exhausts retries", func(t *testing.T) {
			h := newHarness(t, factory(t), Config{})
			id := h.submit(t, api.Params{Param1: 0, Param2: api.RaiseAfter},
				api.Options{MaxRetries: api.Int(1), Countdown: api.Int(0)})

			h.processOne(t)

			rec := h.lookup(t, id)
			require.Equal(t, api.StatusRetryPending, rec.Status)
			require.NotNil(t, rec.FinishedAt)
			require.Len(t, rec.Errors, 1)
			require.Equal(t, 1, h.queue.Len())

			h.processOne(t)

			rec = h.lookup(t, id)
			require.Equal(t, api.StatusFailed, rec.Status)
			require.NotNil(t, rec.FinishedAt)
			require.Empty(t, rec.Result)
			require.Len(t, rec.Errors, 2)
			for _, e := range rec.Errors {
				require.Equal(t, "Manual exception after execution.", e.Message)
			}

			snap := h.metrics.Snapshot()
			require.Equal(t, int64(2), snap.Attempts)
			require.Equal(t, int64(1), snap.Retried)
			require.Equal(t, int64(1), snap.Failed)
			require.Zero(t, snap.Outstanding)
		})
	}
}

func TestWorker_RetryWaitsForCountdown(t *testing.T) {
	var calls atomic.Int32
	body := BodyFunc(func(ctx context.Context, taskID string, p api.Params) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("flaky")
		}
		return "done", nil
	})
	h := newHarness(t, inMemoryStore(t), Config{Body: body, DelayUnit: 100 * time.Millisecond})
	id := h.submit(t, api.Params{}, api.Options{MaxRetries: api.Int(2), Countdown: api.Int(1)})

	h.processOne(t)
	require.Equal(t, api.StatusRetryPending, h.lookup(t, id).Status)

	// The retry is not due yet.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	processed, err := h.worker.ProcessOne(ctx)
	require.False(t, processed)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	h.processOne(t)

	rec := h.lookup(t, id)
	require.Equal(t, api.StatusCompleted, rec.Status)
	require.Equal(t, "done", rec.Result)
	require.Len(t, rec.Errors, 1)
	require.Equal(t, "flaky", rec.Errors[0].Message)
	require.Equal(t, int32(2), calls.Load())
}

func TestWorker_RetryKeepsTaskID(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{})
	id := h.submit(t, api.Params{Param2: api.RaiseBefore},
		api.Options{MaxRetries: api.Int(3), Countdown: api.Int(0)})

	h.processOne(t)

	it, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, it.TaskID)
	require.Equal(t, 1, it.Retries)
	require.Equal(t, 2, it.Attempt())
	require.Equal(t, 4, it.MaxAttempts())
	require.Equal(t, api.RaiseBefore, it.Params.Param2)
}

func TestWorker_PanicIsExecutionFailure(t *testing.T) {
	body := BodyFunc(func(ctx context.Context, taskID string, p api.Params) (string, error) {
		panic("boom")
	})
	h := newHarness(t, inMemoryStore(t), Config{Body: body})
	id := h.submit(t, api.Params{}, api.Options{})

	h.processOne(t)

	rec := h.lookup(t, id)
	require.Equal(t, api.StatusFailed, rec.Status)
	require.Len(t, rec.Errors, 1)
	require.Equal(t, "panic: boom", rec.Errors[0].Message)
	require.True(t, strings.Contains(rec.Errors[0].Detail, "goroutine"), "detail should carry a stack")
}

func TestWorker_EmptyResultIsReplaced(t *testing.T) {
	body := BodyFunc(func(ctx context.Context, taskID string, p api.Params) (string, error) {
		return "", nil
	})
	for name, newStore := range map[string]storeFactory{"memory": inMemoryStore, "sqlite": sqliteStore} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, newStore(t), Config{Body: body})
			id := h.submit(t, api.Params{}, api.Options{})

			h.processOne(t)

			rec := h.lookup(t, id)
			require.Equal(t, api.StatusCompleted, rec.Status)
			require.Equal(t, emptyResult, rec.Result)
			require.NotNil(t, rec.FinishedAt)
		})
	}
}

func TestWorker_MissingTaskIsDropped(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{})

	err := h.worker.Execute(context.Background(), taskqueue.Item{
		ID:       "item-1",
		TaskID:   "ghost",
		Settings: api.DefaultSettings(),
	})
	require.NoError(t, err)

	snap := h.metrics.Snapshot()
	require.Equal(t, int64(1), snap.Missing)
	require.Zero(t, snap.Attempts)
}

func TestWorker_CanceledBeforeStartIsDropped(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{})
	id := h.submit(t, api.Params{}, api.Options{})

	it, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)

	_, err = h.engine.Cancel(context.Background(), id, owner)
	require.NoError(t, err)

	require.NoError(t, h.worker.Execute(context.Background(), *it))

	rec := h.lookup(t, id)
	require.Equal(t, api.StatusCanceled, rec.Status)
	require.Empty(t, rec.Errors)
	require.Equal(t, int64(1), h.metrics.Snapshot().Rejected)
}

func TestWorker_CancelDuringRunWins(t *testing.T) {
	for _, tc := range []struct {
		name   string
		bodyFn func() error
	}{
		{name: "body succeeds", bodyFn: func() error { return nil }},
		{name: "body fails", bodyFn: func() error { return errors.New("late failure") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var eng api.Engine
			body := BodyFunc(func(ctx context.Context, taskID string, p api.Params) (string, error) {
				if _, err := eng.Cancel(ctx, taskID, owner); err != nil {
					return "", err
				}
				if err := tc.bodyFn(); err != nil {
					return "", err
				}
				return "too late", nil
			})
			h := newHarness(t, inMemoryStore(t), Config{Body: body})
			eng = h.engine
			id := h.submit(t, api.Params{}, api.Options{MaxRetries: api.Int(2), Countdown: api.Int(0)})

			h.processOne(t)

			rec := h.lookup(t, id)
			require.Equal(t, api.StatusCanceled, rec.Status)
			require.Empty(t, rec.Result)
			require.Empty(t, rec.Errors)
			require.Zero(t, h.queue.Len())

			snap := h.metrics.Snapshot()
			require.Equal(t, int64(1), snap.Canceled)
			require.Equal(t, int64(1), snap.Rejected)
			require.Zero(t, snap.Retried)
		})
	}
}

func TestWorker_CancelWhileRetryPending(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{DelayUnit: time.Hour})
	id := h.submit(t, api.Params{Param2: api.RaiseAfter}, api.Options{MaxRetries: api.Int(1), Countdown: api.Int(1)})

	h.processOne(t)
	require.Equal(t, 1, h.queue.Len())

	_, err := h.engine.Cancel(context.Background(), id, owner)
	require.NoError(t, err)

	require.Zero(t, h.queue.Len())
	rec := h.lookup(t, id)
	require.Equal(t, api.StatusCanceled, rec.Status)
	require.Len(t, rec.Errors, 1)
}

type failingScheduler struct{}

func (failingScheduler) Enqueue(ctx context.Context, it taskqueue.Item) error {
	return errors.New("queue down")
}

func (failingScheduler) Revoke(ctx context.Context, taskID string) error { return nil }

func TestWorker_ReenqueueFailure(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{})
	id := h.submit(t, api.Params{Param2: api.RaiseBefore}, api.Options{MaxRetries: api.Int(1), Countdown: api.Int(0)})

	it, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)

	exec := NewExecutor(h.engine, failingScheduler{}, Config{})
	err = exec.Execute(context.Background(), *it)
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue down")

	rec := h.lookup(t, id)
	require.Equal(t, api.StatusRetryPending, rec.Status)
	require.Len(t, rec.Errors, 2)
	require.Equal(t, "re-enqueue failed: queue down", rec.Errors[1].Message)
}

func TestWorker_ExecutorHasNoQueue(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{})
	exec := NewExecutor(h.engine, h.queue, Config{})

	processed, err := exec.ProcessOne(context.Background())
	require.False(t, processed)
	require.ErrorIs(t, err, ErrNoQueue)
	require.ErrorIs(t, exec.Run(context.Background()), ErrNoQueue)
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	h := newHarness(t, inMemoryStore(t), Config{Concurrency: 3})
	ids := make([]string, 6)
	for i := range ids {
		ids[i] = h.submit(t, api.Params{Param1: 5}, api.Options{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.metrics.Snapshot().Completed == int64(len(ids))
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for _, id := range ids {
		require.Equal(t, api.StatusCompleted, h.lookup(t, id).Status)
	}
}

func TestSampleBody(t *testing.T) {
	ctx := context.Background()
	b := SampleBody{Unit: time.Millisecond}

	_, err := b.Run(ctx, "t", api.Params{Param2: api.RaiseBefore})
	require.EqualError(t, err, "Manual exception before execution.")

	_, err = b.Run(ctx, "t", api.Params{Param1: 1, Param2: api.RaiseAfter})
	require.EqualError(t, err, "Manual exception after execution.")

	res, err := b.Run(ctx, "t", api.Params{Param1: 2, Param2: "x"})
	require.NoError(t, err)
	require.NotEmpty(t, res)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = SampleBody{Unit: time.Hour}.Run(cctx, "t", api.Params{Param1: 1})
	require.ErrorIs(t, err, context.Canceled)
}
