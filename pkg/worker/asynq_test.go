package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskrun/internal/asynqueue"
	"github.com/petrijr/taskrun/internal/engine"
	"github.com/petrijr/taskrun/internal/persistence"
	"github.com/petrijr/taskrun/pkg/api"
)

func TestWorker_AsynqRetriesUntilFailed(t *testing.T) {
	mr := miniredis.RunT(t)
	opt := asynq.RedisClientOpt{Addr: mr.Addr()}

	sched := asynqueue.NewScheduler(opt, asynqueue.SchedulerOptions{})
	t.Cleanup(func() { _ = sched.Close() })

	metrics := &api.BasicMetrics{}
	eng := engine.NewEngine(engine.Config{
		Store:     persistence.NewInMemoryStore(),
		Scheduler: sched,
		Observer:  metrics,
	})
	exec := NewExecutor(eng, sched, Config{DelayUnit: time.Millisecond, Observer: metrics})

	p := asynqueue.NewProcessor(opt, exec, asynqueue.ProcessorConfig{
		Concurrency:              2,
		DelayedTaskCheckInterval: 100 * time.Millisecond,
	})
	require.NoError(t, p.Start())
	t.Cleanup(p.Shutdown)

	ctx := context.Background()
	id, err := eng.Submit(ctx, api.SubmitRequest{
		Name:    "asynq-job",
		Owner:   "alice",
		Params:  api.Params{Param2: api.RaiseAfter},
		Options: api.Options{MaxRetries: api.Int(1), Countdown: api.Int(0)},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := eng.Lookup(ctx, id)
		return err == nil && rec.Status == api.StatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	rec, err := eng.Lookup(ctx, id)
	require.NoError(t, err)
	require.Len(t, rec.Errors, 2)
	require.Equal(t, int64(2), metrics.Snapshot().Attempts)
}
