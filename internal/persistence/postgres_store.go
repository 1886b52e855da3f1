package persistence

import (
	"database/sql"
)

// PostgresTaskStore is a TaskStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresTaskStore struct {
	sqlTaskStore
}

// Ensure PostgresTaskStore implements TaskStore.
var _ TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore initializes the required schema in the given
// database and returns a new PostgresTaskStore.
func NewPostgresTaskStore(db *sql.DB) (*PostgresTaskStore, error) {
	s := &PostgresTaskStore{sqlTaskStore{db: db, dollarPlaceholders: true, nameOrder: `name COLLATE "C"`}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresTaskStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			owner       TEXT NOT NULL,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			result      TEXT NOT NULL DEFAULT '',
			created_at  BIGINT NOT NULL,
			finished_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS tasks_owner_idx ON tasks (owner)`,
		`CREATE TABLE IF NOT EXISTS task_errors (
			seq        BIGSERIAL PRIMARY KEY,
			task_id    TEXT NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
			message    TEXT NOT NULL,
			detail     TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS task_errors_task_idx ON task_errors (task_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
