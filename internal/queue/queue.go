// Package queue provides the unbounded FIFO used to deliver messages
// asynchronously without ever blocking the sender.
package queue

import "sync"

// Queue hands pushed items to a consumer goroutine one at a time, in order.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
	done   chan struct{}
}

// New starts a queue whose items are passed to deliver.
func New[T any](deliver func(T)) *Queue[T] {
	q := &Queue[T]{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run(deliver)
	return q
}

// Push appends item. It is a no-op after Close.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Close drops pending items and stops the consumer.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Closed reports whether Close was called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Done is closed once the consumer has returned from its last delivery after
// Close.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }

func (q *Queue[T]) run(deliver func(T)) {
	defer close(q.done)
	var zero T
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		deliver(item)
	}
}
