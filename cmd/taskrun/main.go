// Command taskrun submits one task, runs workers until it settles and
// prints the task view as JSON.
//
// Usage:
//
//	taskrun -config taskrun.toml -name report -owner alice -param1 3 -param2 ok
//	taskrun -name doomed -owner alice -param2 "raise exception after" -retry 2 -delay 1
//	taskrun -name oops -owner alice -param1 30 -cancel
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petrijr/taskrun"
	"github.com/petrijr/taskrun/internal/config"
	"github.com/petrijr/taskrun/pkg/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "taskrun:", err)
		os.Exit(1)
	}
}

// optionalInt is an int flag that remembers whether it was set.
type optionalInt struct {
	v *int
}

func (o *optionalInt) String() string {
	if o.v == nil {
		return ""
	}
	return fmt.Sprint(*o.v)
}

func (o *optionalInt) Set(s string) error {
	var n int
	if _, err := fmt.Sscan(s, &n); err != nil {
		return err
	}
	o.v = &n
	return nil
}

type cliArgs struct {
	configPath string
	name       string
	owner      string
	param1     int
	param2     string
	countdown  optionalInt
	maxRetries optionalInt
	cancel     bool
	timeout    time.Duration
	delayUnit  time.Duration
}

func parseArgs(args []string, stderr io.Writer) (*cliArgs, error) {
	a := &cliArgs{}
	fs := flag.NewFlagSet("taskrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&a.name, "name", "", "task name (required)")
	fs.StringVar(&a.owner, "owner", "", "owner reference (required)")
	fs.IntVar(&a.param1, "param1", 0, "sleep length in delay units")
	fs.StringVar(&a.param2, "param2", "", fmt.Sprintf("free text; %q or %q force a failure", api.RaiseBefore, api.RaiseAfter))
	fs.Var(&a.countdown, "countdown", "delay units before a retry (default from config)")
	fs.Var(&a.countdown, "delay", "alias for -countdown")
	fs.Var(&a.maxRetries, "max-retries", "retries after the first attempt (default from config)")
	fs.Var(&a.maxRetries, "retry", "alias for -max-retries")
	fs.BoolVar(&a.cancel, "cancel", false, "cancel the task right after submitting it")
	fs.DurationVar(&a.timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	fs.DurationVar(&a.delayUnit, "delay-unit", 0, "override worker.delay_unit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return a, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.delayUnit > 0 {
		cfg.Worker.DelayUnit = config.Duration{Duration: a.delayUnit}
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}
	obs := api.NewLoggingObserver(logger)

	sys, err := open(ctx, cfg, logger, obs, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Warn("close_failed", slog.Any("error", err))
		}
	}()

	if err := sys.start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer sys.stop()

	req := api.SubmitRequest{
		Name:   a.name,
		Owner:  a.owner,
		Params: api.Params{Param1: a.param1, Param2: a.param2},
		Options: api.Options{
			Countdown:  a.countdown.v,
			MaxRetries: a.maxRetries.v,
		},
	}
	id, err := sys.engine.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	requester := api.Requester{ID: a.owner}
	if a.cancel {
		if _, err := sys.engine.Cancel(ctx, id, requester); err != nil {
			if !errors.Is(err, api.ErrCancellationConflict) {
				return fmt.Errorf("cancel: %w", err)
			}
			logger.Warn("cancel_conflict", slog.String("task_id", id), slog.Any("error", err))
		}
	}

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if _, err := taskrun.Await(waitCtx, sys.engine, id); err != nil && waitCtx.Err() == nil {
		return fmt.Errorf("await: %w", err)
	}

	// Read with a fresh context so an expired wait still prints the view.
	view, err := sys.engine.Get(context.WithoutCancel(ctx), id, requester)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
