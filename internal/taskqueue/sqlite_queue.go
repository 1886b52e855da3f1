package taskqueue

import (
	"database/sql"
)

// SQLiteQueue is a persistent Queue backed by SQLite. Items are ordered by
// due time, then by an auto-incrementing sequence.
//
// The queue_items table does not clash with the task store's tables, so one
// database can hold both.
type SQLiteQueue struct {
	sqlQueue
}

// NewSQLiteQueue initializes the queue table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB, opts ...Option) (*SQLiteQueue, error) {
	q := &SQLiteQueue{sqlQueue{db: db, opts: buildOptions(opts)}}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			task_id     TEXT NOT NULL,
			payload     BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL,
			not_before  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS queue_items_due_idx ON queue_items (not_before, seq);
		CREATE INDEX IF NOT EXISTS queue_items_task_idx ON queue_items (task_id);
	`)
	return err
}
