package asynqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/petrijr/taskrun/internal/taskqueue"
)

// Executor runs one attempt. pkg/worker's Worker satisfies it.
type Executor interface {
	Execute(ctx context.Context, it taskqueue.Item) error
}

// Processor runs an asynq server that hands every delivered attempt to an
// Executor.
type Processor struct {
	server *asynq.Server
	exec   Executor
}

// ProcessorConfig tunes the asynq server.
type ProcessorConfig struct {
	Concurrency int
	Queue       string

	// DelayedTaskCheckInterval is how often asynq promotes due delayed
	// attempts. Zero keeps asynq's default.
	DelayedTaskCheckInterval time.Duration

	// ShutdownTimeout is how long Shutdown waits for running attempts
	// before asynq gives up on them. Zero keeps asynq's default.
	ShutdownTimeout time.Duration

	// Logger receives asynq's own log output. Nil uses slog.Default().
	Logger *slog.Logger
}

// NewProcessor builds a Processor for the Redis server behind opt.
func NewProcessor(opt asynq.RedisClientOpt, exec Executor, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	q := cfg.Queue
	if q == "" {
		q = "default"
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:              con,
		Queues:                   map[string]int{q: 1},
		DelayedTaskCheckInterval: cfg.DelayedTaskCheckInterval,
		ShutdownTimeout:          cfg.ShutdownTimeout,
		Logger:                   newLogAdapter(cfg.Logger),
	})
	return &Processor{server: server, exec: exec}
}

// Handler returns the asynq handler serving TypeExecute.
func (p *Processor) Handler() asynq.Handler {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExecute, p.handle)
	return mux
}

func (p *Processor) handle(ctx context.Context, t *asynq.Task) error {
	it, err := taskqueue.DecodeItem(t.Payload())
	if err != nil {
		// A payload that can't be decoded will never succeed.
		return fmt.Errorf("decode attempt: %v: %w", err, asynq.SkipRetry)
	}
	// asynq cancels ctx on shutdown and timeout. The attempt still has to
	// record its outcome, so it runs detached.
	return p.exec.Execute(context.WithoutCancel(ctx), *it)
}

// Start starts the server in the background.
func (p *Processor) Start() error {
	return p.server.Start(p.Handler())
}

// Run starts the server and blocks until an OS signal stops it.
func (p *Processor) Run() error {
	return p.server.Run(p.Handler())
}

// Shutdown waits for active handlers and stops the server.
func (p *Processor) Shutdown() { p.server.Shutdown() }
