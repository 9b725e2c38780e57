package session

import "sync"

// queue is the unbounded command FIFO.  push never blocks, so the
// heartbeat and monitor tasks can always enqueue even while the event
// loop is waiting for them to stop.
type queue struct {
	mu     sync.Mutex
	items  []Command
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

// push appends c.  It returns false once the queue is closed.
func (q *queue) push(c Command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.notify()
	return true
}

// pop removes the oldest command.  The signal is re-armed while
// commands remain so the loop takes one per wakeup.
func (q *queue) pop() (Command, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()

	if more {
		q.notify()
	}
	return c, true
}

// ready fires when commands may be waiting.
func (q *queue) ready() <-chan struct{} { return q.signal }

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// close rejects further pushes and returns what was still queued.
func (q *queue) close() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}
