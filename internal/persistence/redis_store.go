package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/taskrun/pkg/api"
)

// RedisTaskStore is a TaskStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>task:<id>           => gob-encoded TaskRecord (with errors)
//	<prefix>idx:all             => SET of all task IDs
//	<prefix>idx:owner:<owner>   => SET of task IDs for a given owner
//
// Status changes run inside WATCH/MULTI so a concurrent writer aborts the
// transaction and the change is re-validated against the newer record.
type RedisTaskStore struct {
	client *redis.Client
	prefix string
}

var _ TaskStore = (*RedisTaskStore)(nil)

// NewRedisTaskStore creates a RedisTaskStore.
// prefix is optional but recommended (e.g. "taskrun:").
func NewRedisTaskStore(client *redis.Client, prefix string) *RedisTaskStore {
	if prefix == "" {
		prefix = "taskrun:"
	}
	return &RedisTaskStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisTaskStore) keyTask(id string) string {
	return s.prefix + "task:" + id
}

func (s *RedisTaskStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisTaskStore) keyOwner(owner string) string {
	return s.prefix + "idx:owner:" + owner
}

func (s *RedisTaskStore) CreateTask(ctx context.Context, rec *api.TaskRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keyTask(rec.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), rec.ID)
	pipe.SAdd(ctx, s.keyOwner(rec.Owner), rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisTaskStore) GetTask(ctx context.Context, id string) (*api.TaskRecord, error) {
	data, err := s.client.Get(ctx, s.keyTask(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrTaskNotFound
		}
		return nil, err
	}
	return DecodeRecord(data)
}

func (s *RedisTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*api.TaskRecord, error) {
	var ids []string
	var err error

	if filter.Owner != "" {
		ids, err = s.client.SMembers(ctx, s.keyOwner(filter.Owner)).Result()
	} else {
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.TaskRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyTask(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	recs := make([]*api.TaskRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		if filter.Match(rec) {
			recs = append(recs, rec)
		}
	}
	sortTasks(recs)
	return recs, nil
}

func (s *RedisTaskStore) Transition(ctx context.Context, id string, tr Transition) (*api.TaskRecord, error) {
	var out *api.TaskRecord
	err := s.update(ctx, id, func(rec *api.TaskRecord) error {
		if err := applyTransition(rec, tr); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisTaskStore) AppendError(ctx context.Context, id string, e api.TaskError) error {
	return s.update(ctx, id, func(rec *api.TaskRecord) error {
		rec.Errors = append(rec.Errors, e)
		return nil
	})
}

// update runs an optimistic read-modify-write on one record, retrying when
// the watched key changes before EXEC.
func (s *RedisTaskStore) update(ctx context.Context, id string, mutate func(rec *api.TaskRecord) error) error {
	key := s.keyTask(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return api.ErrTaskNotFound
			}
			return err
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}
		encoded, err := EncodeRecord(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}
