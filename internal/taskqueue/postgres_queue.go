package taskqueue

import (
	"database/sql"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Consumers claim the oldest due row with SELECT ... FOR UPDATE SKIP LOCKED
// and delete it in the same transaction, so concurrent workers never
// receive the same item.
type PostgresQueue struct {
	sqlQueue
}

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(db *sql.DB, opts ...Option) (*PostgresQueue, error) {
	q := &PostgresQueue{sqlQueue{
		db:                 db,
		opts:               buildOptions(opts),
		dollarPlaceholders: true,
		lockClause:         " FOR UPDATE SKIP LOCKED",
	}}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queue_items (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL UNIQUE,
			task_id     TEXT NOT NULL,
			payload     BYTEA NOT NULL,
			enqueued_at BIGINT NOT NULL,
			not_before  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS queue_items_due_idx ON queue_items (not_before, seq)`,
		`CREATE INDEX IF NOT EXISTS queue_items_task_idx ON queue_items (task_id)`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
