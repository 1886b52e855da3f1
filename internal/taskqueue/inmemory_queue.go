package taskqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a Queue ordered by due time, then enqueue order.
// It is safe for concurrent use.
type InMemoryQueue struct {
	mu    sync.Mutex
	items itemHeap
	seq   uint64

	// wake is signalled whenever the head of the heap may have changed.
	wake chan struct{}
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		wake: make(chan struct{}, 1),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

type queuedItem struct {
	item Item
	due  time.Time
	seq  uint64
}

type itemHeap []*queuedItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*queuedItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	it = prepare(it, now)

	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &queuedItem{item: it, due: dueAt(it, now), seq: q.seq})
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *InMemoryQueue) Revoke(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	kept := q.items[:0]
	for _, qi := range q.items {
		if qi.item.TaskID != taskID {
			kept = append(kept, qi)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Item, error) {
	tmr := newIdleTimer()
	defer tmr.Stop()

	for {
		q.mu.Lock()
		var wait time.Duration = -1
		if len(q.items) > 0 {
			head := q.items[0]
			wait = time.Until(head.due)
			if wait <= 0 {
				heap.Pop(&q.items)
				more := len(q.items) > 0
				q.mu.Unlock()
				if more {
					// Pass the wakeup on to the next waiting consumer.
					q.signal()
				}
				it := head.item
				return &it, nil
			}
		}
		q.mu.Unlock()

		if wait < 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-q.wake:
			}
			continue
		}

		tmr.Reset(wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
			if !tmr.Stop() {
				<-tmr.C
			}
		case <-tmr.C:
		}
	}
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *InMemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
