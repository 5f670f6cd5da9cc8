package listener

import (
	"sync"
	"time"
)

// OutboundItem is one pending SMS.
type OutboundItem struct {
	Phone      string
	Body       string
	EnqueuedAt time.Time
}

// Queue is an unbounded FIFO shared by any number of producers and the
// single worker. Every operation holds the lock for its whole duration and
// never across modem I/O.
type Queue struct {
	mu    sync.Mutex
	items []OutboundItem
}

// Push appends item at the tail.
func (q *Queue) Push(item OutboundItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Peek returns a copy of the head without removing it.
func (q *Queue) Peek() (OutboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return OutboundItem{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (OutboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return OutboundItem{}, false
	}
	head := q.items[0]
	q.items[0] = OutboundItem{}
	q.items = q.items[1:]
	return head, true
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
