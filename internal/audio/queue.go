package audio

import "sync"

// Queue is an unbounded FIFO safe for concurrent producers and a single consumer.
// Push never blocks beyond a short critical section, so it is usable from device callbacks.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	ready chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends an item and signals Ready.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest item. It returns false and leaves the queue untouched when empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Ready is signalled at least once after each Push.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}
