// Package asynqueue schedules task attempts on asynq and runs them through
// an asynq server.
//
// Each attempt becomes one asynq task whose id is the attempt's item id. A
// Redis set per task id remembers every attempt that was scheduled, so
// Revoke can delete them from asynq without scanning queues.
package asynqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/taskrun/internal/taskqueue"
)

// TypeExecute is the asynq task type carrying one taskqueue.Item.
const TypeExecute = "taskrun:execute"

// attemptIndexTTL bounds how long an attempt stays revocable after its due
// time.
const attemptIndexTTL = 24 * time.Hour

// DefaultAttemptTimeout is the asynq timeout given to each attempt when
// SchedulerOptions.Timeout is zero.
const DefaultAttemptTimeout = 24 * time.Hour

// Scheduler implements taskqueue.Scheduler on top of asynq.
type Scheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	rdb       *redis.Client
	queue     string
	prefix    string
	timeout   time.Duration
}

// Ensure Scheduler implements taskqueue.Scheduler.
var _ taskqueue.Scheduler = (*Scheduler)(nil)

// SchedulerOptions tunes a Scheduler.
type SchedulerOptions struct {
	// Queue is the asynq queue name; defaults to "default".
	Queue string

	// Prefix namespaces the attempt index keys; defaults to "taskrun:".
	Prefix string

	// Timeout bounds one attempt inside asynq; defaults to
	// DefaultAttemptTimeout.
	Timeout time.Duration
}

// NewScheduler connects a Scheduler to the Redis server behind opt.
func NewScheduler(opt asynq.RedisClientOpt, opts SchedulerOptions) *Scheduler {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "taskrun:"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Scheduler{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		rdb: redis.NewClient(&redis.Options{
			Network:  opt.Network,
			Addr:     opt.Addr,
			Username: opt.Username,
			Password: opt.Password,
			DB:       opt.DB,
		}),
		queue:   q,
		prefix:  prefix,
		timeout: timeout,
	}
}

func (s *Scheduler) keyAttempts(taskID string) string {
	return s.prefix + "asynq:task:" + taskID
}

// Enqueue schedules it as an asynq task, delayed until it.NotBefore.
func (s *Scheduler) Enqueue(ctx context.Context, it taskqueue.Item) error {
	now := time.Now()
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = now
	}
	if it.ID == "" {
		return errors.New("asynqueue: item id is required")
	}
	payload, err := taskqueue.EncodeItem(it)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(it.ID),
		asynq.Queue(s.queue),
		// Retries are owned by the worker, not by asynq.
		asynq.MaxRetry(0),
		asynq.Timeout(s.timeout),
	}
	delay := time.Duration(0)
	if !it.NotBefore.IsZero() {
		delay = it.NotBefore.Sub(now)
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	} else {
		delay = 0
	}

	// Index the attempt first so a concurrent Revoke can always find it.
	key := s.keyAttempts(it.TaskID)
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, it.ID)
	pipe.Expire(ctx, key, delay+attemptIndexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index attempt %s: %w", it.ID, err)
	}

	if _, err := s.client.EnqueueContext(ctx, asynq.NewTask(TypeExecute, payload), opts...); err != nil {
		return fmt.Errorf("enqueue attempt %s: %w", it.ID, err)
	}
	return nil
}

// Revoke deletes every pending or scheduled attempt of the task. Attempts
// already running are left alone.
func (s *Scheduler) Revoke(ctx context.Context, taskID string) error {
	key := s.keyAttempts(taskID)
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, id := range ids {
		// Best effort: finished, active and unknown attempts can't be deleted.
		_ = s.inspector.DeleteTask(s.queue, id)
	}
	return s.rdb.Del(ctx, key).Err()
}

// Close releases the Redis connections.
func (s *Scheduler) Close() error {
	return errors.Join(s.client.Close(), s.inspector.Close(), s.rdb.Close())
}
