package reply

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Queue is a FIFO hand-off buffer between network threads and one Worker.
// Push never blocks. A capacity of zero means unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	closed   bool

	ready    chan struct{}
	closedCh chan struct{}
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}

	return &Queue[T]{
		items:    queue.New(),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Push appends item.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	if q.capacity > 0 && q.items.Length() >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}

	q.items.Add(item)
	q.mu.Unlock()

	q.signal()

	return nil
}

// Pop removes the oldest item, waiting while the queue is empty. Once the
// queue is closed it keeps returning the remaining items and then
// ErrQueueClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	for {
		q.mu.Lock()

		if q.items.Length() > 0 {
			item, _ := q.items.Remove().(T)
			more := q.items.Length() > 0
			q.mu.Unlock()

			if more {
				q.signal()
			}

			return item, nil
		}

		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}

		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.closedCh:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close stops accepting new items. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.closedCh)
}

// Discard empties the queue and returns what was dropped, oldest first.
func (q *Queue[T]) Discard() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		item, _ := q.items.Remove().(T)
		dropped = append(dropped, item)
	}

	return dropped
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Length()
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
