package session

import (
	"sync"

	"github.com/gammazero/deque"
)

// eventQueue is the unbounded FIFO between producers (engine callbacks,
// timers, commands) and the single controller loop. Pushing never blocks.
type eventQueue struct {
	mu     sync.Mutex
	items  deque.Deque[any]
	ready  chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev any) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.PushBack(ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) pop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil, false
	}
	return q.items.PopFront(), true
}

func (q *eventQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// close rejects further pushes and returns whatever was still queued.
func (q *eventQueue) close() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := make([]any, 0, q.items.Len())
	for q.items.Len() > 0 {
		rest = append(rest, q.items.PopFront())
	}
	return rest
}
