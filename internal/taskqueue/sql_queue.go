package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// sqlQueue holds the queries shared by the SQLite and Postgres queues.
// Items live in the queue_items table; claiming deletes the row inside the
// same transaction that selected it.
type sqlQueue struct {
	db   *sql.DB
	opts queueOptions

	dollarPlaceholders bool

	// lockClause is appended to the claim SELECT (e.g. FOR UPDATE SKIP LOCKED).
	lockClause string
}

func (q *sqlQueue) rebind(query string) string {
	if !q.dollarPlaceholders {
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

func (q *sqlQueue) Enqueue(ctx context.Context, it Item) error {
	now := time.Now()
	it = prepare(it, now)
	payload, err := EncodeItem(it)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, q.rebind(`
		INSERT INTO queue_items (id, task_id, payload, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?)`),
		it.ID,
		it.TaskID,
		payload,
		it.EnqueuedAt.UnixNano(),
		dueAt(it, now).UnixNano(),
	)
	return err
}

func (q *sqlQueue) Revoke(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, q.rebind(`DELETE FROM queue_items WHERE task_id = ?`), taskID)
	return err
}

func (q *sqlQueue) Dequeue(ctx context.Context) (*Item, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle poll.
	tmr := newIdleTimer()
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		payload, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			// Nothing due yet: wait a bit and retry.
			if err := sleep(ctx, tmr, q.opts.pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		it, err := DecodeItem(payload)
		if err != nil {
			return nil, fmt.Errorf("decode queue item failed: %w", err)
		}
		return it, nil
	}
}

// claim deletes and returns the payload of the oldest due row, or nil when
// nothing is due or another consumer won the row.
func (q *sqlQueue) claim(ctx context.Context) ([]byte, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq     int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, q.rebind(`
		SELECT seq, payload
		FROM queue_items
		WHERE not_before <= ?
		ORDER BY not_before, seq
		LIMIT 1`+q.lockClause),
		time.Now().UnixNano(),
	).Scan(&seq, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, q.rebind(`DELETE FROM queue_items WHERE seq = ?`), seq)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (q *sqlQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_items`).Scan(&n); err != nil {
		log.Printf("taskqueue: Len failed: %v", err)
		return 0
	}
	return n
}
