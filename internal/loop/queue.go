package loop

import "sync"

// queue is an unbounded FIFO safe for concurrent use. Items are kept in a
// ring that doubles when full, so push never blocks.
type queue[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond
	ring   []T
	head   int
	n      int
	closed bool
}

func newQueue[T any](size int) *queue[T] {
	if size < 1 {
		size = 1
	}
	q := &queue[T]{ring: make([]T, size)}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// push appends v. It reports false once the queue is closed.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.n == len(q.ring) {
		q.resize(2 * len(q.ring))
	}
	q.ring[(q.head+q.n)%len(q.ring)] = v
	q.n++
	q.ready.Signal()
	return true
}

// pop blocks until an item is available. Items pushed before close are still
// returned; ok is false once the queue is closed and drained.
func (q *queue[T]) pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.n == 0 && !q.closed {
		q.ready.Wait()
	}
	return q.take()
}

// tryPop is pop without waiting.
func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.ready.Broadcast()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// take requires q.mu.
func (q *queue[T]) take() (v T, ok bool) {
	if q.n == 0 {
		return v, false
	}
	var zero T
	v, q.ring[q.head] = q.ring[q.head], zero
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	return v, true
}

// resize requires q.mu.
func (q *queue[T]) resize(size int) {
	ring := make([]T, size)
	for i := 0; i < q.n; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
}
