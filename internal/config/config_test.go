package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskrun/pkg/api"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Equal(t, BackendMemory, cfg.Queue.Backend)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, time.Second, cfg.Worker.DelayUnit.Duration)
	require.Equal(t, api.DefaultSettings(), cfg.Defaults.Settings())
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskrun.toml")
	content := `
[log]
level = "debug"
format = "json"

[store]
backend = "sqlite"
dsn = "tasks.db"

[queue]
backend = "asynq"
dsn = "localhost:6379"
name = "critical"

[worker]
concurrency = 8
delay_unit = "250ms"

[defaults]
countdown = 5
max_retries = 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, BackendSQLite, cfg.Store.Backend)
	require.Equal(t, "tasks.db", cfg.Store.DSN)
	require.Equal(t, BackendAsynq, cfg.Queue.Backend)
	require.Equal(t, "critical", cfg.Queue.Name)
	require.Equal(t, 8, cfg.Worker.Concurrency)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.DelayUnit.Duration)
	// Unset keys keep their defaults.
	require.Equal(t, 20*time.Millisecond, cfg.Worker.PollInterval.Duration)
	require.Equal(t, "taskrun:", cfg.Store.Prefix)
	require.Equal(t, api.Settings{Countdown: 5, MaxRetries: 2}, cfg.Defaults.Settings())
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown store":    "[store]\nbackend = \"cassandra\"",
		"asynq store":      "[store]\nbackend = \"asynq\"",
		"unknown key":      "[worker]\nthreads = 3",
		"zero concurrency": "[worker]\nconcurrency = 0",
		"bad duration":     "[worker]\ndelay_unit = \"soon\"",
		"negative retries": "[defaults]\nmax_retries = -1",
		"negative delay":   "[defaults]\ncountdown = -5",
		"bad level":        "[log]\nlevel = \"loud\"",
		"bad format":       "[log]\nformat = \"xml\"",
		"syntax":           "[store\nbackend = 1",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(content)
			require.Error(t, err)
		})
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "task_id", "t-1")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"task_id":"t-1"`)
}
