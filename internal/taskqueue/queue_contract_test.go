package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/taskrun/pkg/api"
)

// runQueueContract exercises the behavior every Queue must share.
// newQueue must return an empty queue on every call.
func runQueueContract(t *testing.T, newQueue func(t *testing.T) Queue) {
	t.Helper()

	t.Run("fifo for due items", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		for _, id := range []string{"1", "2", "3"} {
			require.NoError(t, q.Enqueue(ctx, Item{ID: id, TaskID: "task-" + id}))
		}
		require.Equal(t, 3, q.Len())

		for _, want := range []string{"1", "2", "3"} {
			got, err := q.Dequeue(ctx)
			require.NoError(t, err)
			require.Equal(t, want, got.ID)
		}
		require.Equal(t, 0, q.Len())
	})

	t.Run("fields round trip", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		in := Item{
			ID:       "item-1",
			TaskID:   "task-1",
			Params:   api.Params{Param1: 3, Param2: "ok"},
			Settings: api.Settings{Countdown: 7, MaxRetries: 2},
			Retries:  1,
		}
		require.NoError(t, q.Enqueue(ctx, in))

		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, in.ID, got.ID)
		require.Equal(t, in.TaskID, got.TaskID)
		require.Equal(t, in.Params, got.Params)
		require.Equal(t, in.Settings, got.Settings)
		require.Equal(t, 1, got.Retries)
		require.False(t, got.EnqueuedAt.IsZero())
	})

	t.Run("delayed item waits", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		notBefore := time.Now().Add(150 * time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, Item{ID: "late", TaskID: "a", NotBefore: notBefore}))
		require.NoError(t, q.Enqueue(ctx, Item{ID: "now", TaskID: "b"}))

		first, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "now", first.ID)

		second, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "late", second.ID)
		require.False(t, time.Now().Before(notBefore.Add(-5*time.Millisecond)),
			"delayed item dequeued too early")
	})

	t.Run("revoke drops only that task", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, Item{ID: "x1", TaskID: "x"}))
		require.NoError(t, q.Enqueue(ctx, Item{ID: "x2", TaskID: "x", NotBefore: time.Now().Add(time.Hour)}))
		require.NoError(t, q.Enqueue(ctx, Item{ID: "y1", TaskID: "y"}))

		require.NoError(t, q.Revoke(ctx, "x"))
		require.Equal(t, 1, q.Len())
		require.NoError(t, q.Revoke(ctx, "never-scheduled"))

		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "y1", got.ID)
	})

	t.Run("dequeue honors context", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx)
		require.Error(t, err)
		require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	})

	t.Run("concurrent consumers see each item once", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		const total = 20
		for i := 0; i < total; i++ {
			require.NoError(t, q.Enqueue(ctx, Item{ID: fmt.Sprintf("item-%02d", i), TaskID: "t"}))
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					it, err := q.Dequeue(ctx)
					if err != nil {
						return
					}
					mu.Lock()
					seen[it.ID]++
					if len(seen) == total {
						cancel()
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, seen, total)
		for id, n := range seen {
			require.Equal(t, 1, n, "item %s delivered %d times", id, n)
		}
	})
}
