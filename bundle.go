package taskrun

import (
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/taskrun/internal/engine"
	"github.com/petrijr/taskrun/internal/persistence"
	"github.com/petrijr/taskrun/internal/taskqueue"
	workerpkg "github.com/petrijr/taskrun/pkg/worker"
)

// Bundle wires together an Engine, a task queue, and a Worker that
// consumes from that queue. Record store and queue share one backend.
type Bundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	queue taskqueue.Queue
}

// BundleOptions tunes the pieces of a Bundle. Zero values pick defaults.
type BundleOptions struct {
	Observer   Observer
	Authorizer Authorizer

	// Defaults apply to submissions that leave options unset.
	Defaults *Settings

	// PollInterval is how often durable queues look for due items.
	PollInterval time.Duration

	// Worker configures the bundled worker. A nil Worker.Observer inherits
	// Observer.
	Worker workerpkg.Config
}

func (o BundleOptions) queueOptions() []taskqueue.Option {
	if o.PollInterval <= 0 {
		return nil
	}
	return []taskqueue.Option{taskqueue.WithPollInterval(o.PollInterval)}
}

func newBundle(store persistence.TaskStore, q taskqueue.Queue, opts BundleOptions) *Bundle {
	eng := engine.NewEngine(engine.Config{
		Store:      store,
		Scheduler:  q,
		Observer:   opts.Observer,
		Authorizer: opts.Authorizer,
		Defaults:   opts.Defaults,
	})
	wcfg := opts.Worker
	if wcfg.Observer == nil {
		wcfg.Observer = opts.Observer
	}
	return &Bundle{
		Engine: eng,
		Worker: workerpkg.NewWithConfig(eng, q, wcfg),
		queue:  q,
	}
}

// QueueLen reports the number of attempts waiting in the queue.
func (b *Bundle) QueueLen() int { return b.queue.Len() }

// NewInMemory returns a non-durable Bundle, best for tests and local runs.
func NewInMemory(opts BundleOptions) *Bundle {
	return newBundle(persistence.NewInMemoryStore(), taskqueue.NewInMemoryQueue(), opts)
}

// NewSQLite keeps records and queued attempts in the same SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:taskrun.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
//	b, err := taskrun.NewSQLite(db, taskrun.BundleOptions{})
func NewSQLite(db *sql.DB, opts BundleOptions) (*Bundle, error) {
	store, err := persistence.NewSQLiteTaskStore(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db, opts.queueOptions()...)
	if err != nil {
		return nil, err
	}
	return newBundle(store, q, opts), nil
}

// NewPostgres keeps records and queued attempts in PostgreSQL. db must use
// the pgx stdlib driver.
func NewPostgres(db *sql.DB, opts BundleOptions) (*Bundle, error) {
	store, err := persistence.NewPostgresTaskStore(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewPostgresQueue(db, opts.queueOptions()...)
	if err != nil {
		return nil, err
	}
	return newBundle(store, q, opts), nil
}

// NewRedis keeps records and queued attempts in Redis under prefix.
func NewRedis(client *redis.Client, prefix string, opts BundleOptions) *Bundle {
	store := persistence.NewRedisTaskStore(client, prefix)
	q := taskqueue.NewRedisQueue(client, prefix, opts.queueOptions()...)
	return newBundle(store, q, opts)
}

// NewMongo keeps records and queued attempts in the "tasks" and
// "queue_items" collections of dbName.
func NewMongo(client *mongo.Client, dbName string, opts BundleOptions) *Bundle {
	store := persistence.NewMongoTaskStore(client, dbName, "")
	q := taskqueue.NewMongoQueue(client, dbName, "", opts.queueOptions()...)
	return newBundle(store, q, opts)
}
