package taskqueue

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using Redis.
//
// It uses the following keys:
//
//	<prefix>queue:due          => ZSET of item IDs scored by due time (unix ms)
//	<prefix>queue:items        => HASH item ID -> gob-encoded Item
//	<prefix>queue:item_task    => HASH item ID -> task ID
//	<prefix>queue:task:<id>    => SET of item IDs scheduled for a task
//
// A consumer claims the oldest due item and removes every trace of it in one
// script, so a claimed item is either returned or still queued.
type RedisQueue struct {
	client *redis.Client
	prefix string
	opts   queueOptions
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "taskrun:").
func NewRedisQueue(client *redis.Client, prefix string, opts ...Option) *RedisQueue {
	if prefix == "" {
		prefix = "taskrun:"
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
		opts:   buildOptions(opts),
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) keyDue() string {
	return q.prefix + "queue:due"
}

func (q *RedisQueue) keyItems() string {
	return q.prefix + "queue:items"
}

func (q *RedisQueue) keyItemTask() string {
	return q.prefix + "queue:item_task"
}

func (q *RedisQueue) keyTask(taskID string) string {
	return q.prefix + "queue:task:" + taskID
}

const redisClaimLua = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local data = redis.call('HGET', KEYS[2], id)
local task = redis.call('HGET', KEYS[3], id)
redis.call('HDEL', KEYS[2], id)
redis.call('HDEL', KEYS[3], id)
if task then
	redis.call('SREM', ARGV[2] .. task, id)
end
if not data then
	return ''
end
return data
`

func (q *RedisQueue) Enqueue(ctx context.Context, it Item) error {
	now := time.Now()
	it = prepare(it, now)
	data, err := EncodeItem(it)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.keyItems(), it.ID, data)
	pipe.HSet(ctx, q.keyItemTask(), it.ID, it.TaskID)
	pipe.SAdd(ctx, q.keyTask(it.TaskID), it.ID)
	pipe.ZAdd(ctx, q.keyDue(), redis.Z{
		Score:  float64(dueAt(it, now).UnixMilli()),
		Member: it.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Revoke(ctx context.Context, taskID string) error {
	ids, err := q.client.SMembers(ctx, q.keyTask(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.keyDue(), members...)
	pipe.HDel(ctx, q.keyItems(), ids...)
	pipe.HDel(ctx, q.keyItemTask(), ids...)
	pipe.Del(ctx, q.keyTask(taskID))
	_, err = pipe.Exec(ctx)
	return err
}

// Dequeue polls for the oldest due item until one is claimed or ctx is
// cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Item, error) {
	tmr := newIdleTimer()
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		it, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if it != nil {
			return it, nil
		}
		if err := sleep(ctx, tmr, q.opts.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (*Item, error) {
	keys := []string{q.keyDue(), q.keyItems(), q.keyItemTask()}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	data, err := q.client.Eval(ctx, redisClaimLua, keys, now, q.keyTask("")).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if data == "" {
		// The due entry had no payload; nothing left to run.
		return nil, nil
	}
	// A payload that fails to decode would fail on every delivery, so it is
	// not put back.
	return DecodeItem([]byte(data))
}

// Len returns the approximate number of items queued (ZCARD).
func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.keyDue()).Result()
	if err != nil {
		// For a Len() helper, it's better to log and return 0 than panic.
		log.Printf("RedisQueue: Len failed: %v", err)
		return 0
	}
	return int(n)
}
