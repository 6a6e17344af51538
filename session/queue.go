package session

import "sync"

// queue is an unbounded FIFO of work items drained by a single worker. Pushing never blocks,
// so radio callbacks can enqueue from their own goroutines without waiting on the session.
type queue struct {
	mu sync.Mutex

	items []func()
	closed bool

	wake chan struct{}
}

func newQueue() *queue {
	return &queue{
		wake: make(chan struct{}, 1),
	}
}

// push appends fn and reports whether it was accepted.
func (q *queue) push(fn func()) bool {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false
	}

	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return true
}

// pop blocks until an item is available. Returns false once the queue is closed and drained.
func (q *queue) pop() (func(), bool) {
	for {
		q.mu.Lock()

		if len(q.items) > 0 {
			fn := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()

			return fn, true
		}

		if q.closed {
			q.mu.Unlock()
			return nil, false
		}

		q.mu.Unlock()
		<-q.wake
	}
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
