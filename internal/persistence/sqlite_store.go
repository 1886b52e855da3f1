package persistence

import (
	"database/sql"
)

// SQLiteTaskStore is a TaskStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// In-memory databases must be opened with db.SetMaxOpenConns(1), since every
// new connection to ":memory:" sees an empty database.
//
// SQLite enables foreign keys per connection, and error rows rely on them to
// cascade when a task row is deleted. A pool with more than one connection
// needs SQLiteDSNPragmas in its DSN:
//
//	sql.Open("sqlite", "file:taskrun.db?"+persistence.SQLiteDSNPragmas)
type SQLiteTaskStore struct {
	sqlTaskStore
}

// SQLiteDSNPragmas is the DSN query that enables foreign keys on every
// connection modernc.org/sqlite opens.
const SQLiteDSNPragmas = "_pragma=foreign_keys(1)"

// Ensure SQLiteTaskStore implements TaskStore.
var _ TaskStore = (*SQLiteTaskStore)(nil)

// NewSQLiteTaskStore initializes the required schema in the given
// database and returns a new SQLiteTaskStore.
func NewSQLiteTaskStore(db *sql.DB) (*SQLiteTaskStore, error) {
	s := &SQLiteTaskStore{sqlTaskStore{db: db}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTaskStore) initSchema() error {
	_, err := s.db.Exec(`
		PRAGMA foreign_keys = ON;
		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			owner       TEXT NOT NULL,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			result      TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			finished_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS tasks_owner_idx ON tasks (owner);
		CREATE TABLE IF NOT EXISTS task_errors (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
			message    TEXT NOT NULL,
			detail     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS task_errors_task_idx ON task_errors (task_id, seq);
	`)
	return err
}
