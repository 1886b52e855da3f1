package taskqueue

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db, WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueue_Contract(t *testing.T) {
	runQueueContract(t, func(t *testing.T) Queue {
		return newTestSQLiteQueue(t)
	})
}

func TestSQLiteQueue_DefaultPollInterval(t *testing.T) {
	q := newTestSQLiteQueue(t)
	if q.opts.pollInterval != 5*time.Millisecond {
		t.Fatalf("expected configured poll interval, got %v", q.opts.pollInterval)
	}

	o := buildOptions([]Option{WithPollInterval(0)})
	if o.pollInterval != DefaultPollInterval {
		t.Fatalf("expected default poll interval, got %v", o.pollInterval)
	}
}
