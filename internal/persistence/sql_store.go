package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/petrijr/taskrun/pkg/api"
)

// sqlTaskStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlTaskStore struct {
	db *sql.DB

	// dollarPlaceholders switches '?' to '$1', '$2', ... (Postgres).
	dollarPlaceholders bool

	// nameOrder is the ORDER BY expression for names; it must compare
	// bytewise so every backend lists in the same order.
	nameOrder string
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqlTaskStore) rebind(query string) string {
	if !s.dollarPlaceholders {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlTaskStore) CreateTask(ctx context.Context, rec *api.TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO tasks (id, owner, name, status, result, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID,
		rec.Owner,
		rec.Name,
		string(rec.Status),
		rec.Result,
		nanos(rec.CreatedAt),
		nullNanos(rec),
	)
	if err != nil {
		return err
	}

	for _, e := range rec.Errors {
		if err := s.insertError(ctx, tx, rec.ID, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlTaskStore) GetTask(ctx context.Context, id string) (*api.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, owner, name, status, result, created_at, finished_at
		FROM tasks
		WHERE id = ?`),
		id,
	)
	if err != nil {
		return nil, err
	}
	recs, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, api.ErrTaskNotFound
	}

	rec := recs[0]
	if rec.Errors, err = s.loadErrors(ctx, s.db, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *sqlTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*api.TaskRecord, error) {
	query := `
		SELECT id, owner, name, status, result, created_at, finished_at
		FROM tasks`
	var args []any
	var clauses []string

	if filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Search != "" {
		clauses = append(clauses, `LOWER(name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Search))+"%")
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	nameOrder := s.nameOrder
	if nameOrder == "" {
		nameOrder = "name"
	}
	query += " ORDER BY " + nameOrder + ", created_at, id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	recs, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if rec.Errors, err = s.loadErrors(ctx, s.db, rec.ID); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (s *sqlTaskStore) Transition(ctx context.Context, id string, tr Transition) (*api.TaskRecord, error) {
	for i := 0; i < maxCASRetries; i++ {
		rec, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		from := rec.Status
		if err := applyTransition(rec, tr); err != nil {
			return nil, err
		}

		applied, err := s.writeTransition(ctx, rec, from, tr.Error)
		if err != nil {
			return nil, err
		}
		if applied {
			return rec, nil
		}
		// Status moved underneath us: re-read and re-validate.
	}
	return nil, ErrContention
}

// writeTransition performs the conditional update. It reports false when the
// stored status is no longer 'from'.
func (s *sqlTaskStore) writeTransition(ctx context.Context, rec *api.TaskRecord, from api.Status, e *api.TaskError) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE tasks
		SET status = ?, result = ?, finished_at = ?
		WHERE id = ? AND status = ?`),
		string(rec.Status),
		rec.Result,
		nullNanos(rec),
		rec.ID,
		string(from),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if e != nil {
		if err := s.insertError(ctx, tx, rec.ID, *e); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

func (s *sqlTaskStore) AppendError(ctx context.Context, id string, e api.TaskError) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM tasks WHERE id = ?`), id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.ErrTaskNotFound
		}
		return err
	}

	if err := s.insertError(ctx, tx, id, e); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlTaskStore) insertError(ctx context.Context, tx *sql.Tx, id string, e api.TaskError) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO task_errors (task_id, message, detail, created_at)
		VALUES (?, ?, ?, ?)`),
		id,
		e.Message,
		e.Detail,
		nanos(e.CreatedAt),
	)
	return err
}

func (s *sqlTaskStore) loadErrors(ctx context.Context, q queryer, id string) ([]api.TaskError, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT message, detail, created_at
		FROM task_errors
		WHERE task_id = ?
		ORDER BY seq`),
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.TaskError
	for rows.Next() {
		var e api.TaskError
		var createdAt int64
		if err := rows.Scan(&e.Message, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = fromNanos(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanTasks(rows *sql.Rows) ([]*api.TaskRecord, error) {
	defer rows.Close()

	var recs []*api.TaskRecord
	for rows.Next() {
		var rec api.TaskRecord
		var status string
		var createdAt int64
		var finishedAt sql.NullInt64

		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Name, &status, &rec.Result, &createdAt, &finishedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, api.ErrTaskNotFound
			}
			return nil, err
		}
		rec.Status = api.Status(status)
		rec.CreatedAt = fromNanos(createdAt)
		if finishedAt.Valid {
			t := fromNanos(finishedAt.Int64)
			rec.FinishedAt = &t
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func nullNanos(rec *api.TaskRecord) sql.NullInt64 {
	if rec.FinishedAt == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*rec.FinishedAt), Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
