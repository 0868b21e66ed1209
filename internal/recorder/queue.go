package recorder

import (
	"sync"

	"github.com/rickgao/ib-quotes/internal/model"
)

// queue is an unbounded-ish ring of pending quotes. It doubles in place
// once it passes 70% occupancy so a slow flush never drops data, and it
// drains in arrival order.
type queue struct {
	mu     sync.Mutex
	ring   []model.Quote
	head   int
	count  int
	closed bool

	accepted int64
	drained  int64
	grows    int
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{ring: make([]model.Quote, capacity)}
}

// push appends a quote. Returns false once the queue is closed.
func (q *queue) push(quote model.Quote) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if threshold := (len(q.ring) * 70) / 100; q.count+1 >= max(threshold, 1) {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = quote
	q.count++
	q.accepted++
	return true
}

// drain removes up to limit quotes in arrival order; limit <= 0 takes
// everything.
func (q *queue) drain(limit int) []model.Quote {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]model.Quote, n)
	for i := range out {
		out[i] = q.ring[q.head]
		q.ring[q.head] = model.Quote{}
		q.head = (q.head + 1) % len(q.ring)
	}
	q.count -= n
	q.drained += int64(n)
	return out
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles capacity, unwrapping the ring. Caller holds the lock.
func (q *queue) grow() {
	next := make([]model.Quote, len(q.ring)*2)
	for i := 0; i < q.count; i++ {
		next[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = next
	q.head = 0
	q.grows++
}
