// Package config loads taskrun settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/petrijr/taskrun/pkg/api"
)

// Backend names accepted by [store] and [queue].
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"

	// BackendAsynq is valid for [queue] only.
	BackendAsynq = "asynq"
)

// Config is the full file layout.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Store    StoreConfig    `toml:"store"`
	Queue    QueueConfig    `toml:"queue"`
	Worker   WorkerConfig   `toml:"worker"`
	Defaults DefaultsConfig `toml:"defaults"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`
	// Format is text or json.
	Format string `toml:"format"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	// DSN is a file path for sqlite, a connection URL otherwise.
	DSN string `toml:"dsn"`
	// Prefix namespaces Redis keys.
	Prefix     string `toml:"prefix"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

type QueueConfig struct {
	Backend    string `toml:"backend"`
	DSN        string `toml:"dsn"`
	Prefix     string `toml:"prefix"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
	// Name is the asynq queue name.
	Name string `toml:"name"`
}

type WorkerConfig struct {
	Concurrency  int      `toml:"concurrency"`
	DelayUnit    Duration `toml:"delay_unit"`
	PollInterval Duration `toml:"poll_interval"`
}

type DefaultsConfig struct {
	Countdown  int `toml:"countdown"`
	MaxRetries int `toml:"max_retries"`
}

// Settings converts the defaults section for the engine.
func (d DefaultsConfig) Settings() api.Settings {
	return api.Settings{Countdown: d.Countdown, MaxRetries: d.MaxRetries}
}

// Duration reads values such as "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Backend: BackendMemory, Prefix: "taskrun:"},
		Queue: QueueConfig{Backend: BackendMemory, Prefix: "taskrun:"},
		Worker: WorkerConfig{
			Concurrency:  4,
			DelayUnit:    Duration{time.Second},
			PollInterval: Duration{20 * time.Millisecond},
		},
		Defaults: DefaultsConfig{
			Countdown:  api.DefaultCountdown,
			MaxRetries: api.DefaultMaxRetries,
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML content over the defaults.
func Parse(content string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("config: unknown keys: %s", strings.Join(names, ", "))
}

// Validate rejects unknown backends and out-of-range values.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", c.Store.Backend))
	}
	switch c.Queue.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendMongo, BackendAsynq:
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be >= 1"))
	}
	if c.Worker.DelayUnit.Duration <= 0 {
		errs = append(errs, errors.New("worker.delay_unit must be positive"))
	}
	if c.Worker.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if c.Defaults.Countdown < 0 {
		errs = append(errs, errors.New("defaults.countdown must be >= 0"))
	}
	if c.Defaults.MaxRetries < 0 {
		errs = append(errs, errors.New("defaults.max_retries must be >= 0"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds the slog logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
