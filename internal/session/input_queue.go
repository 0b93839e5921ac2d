package session

import "sync"

// inputQueue is an unbounded FIFO of input lines with a single consumer.
type inputQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	ready  chan struct{} // signalled when items arrive or the queue closes
}

func newInputQueue() *inputQueue {
	return &inputQueue{ready: make(chan struct{}, 1)}
}

// Push enqueues text. It fails once the queue has been closed.
func (q *inputQueue) Push(text string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrChannelClosed
	}
	q.items = append(q.items, text)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop blocks until an item is available or the queue is closed.
// Items queued before Close are discarded; ok is false once closed.
func (q *inputQueue) Pop() (string, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", false
		}
		if len(q.items) > 0 {
			text := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return text, true
		}
		q.mu.Unlock()

		<-q.ready
	}
}

// Close stops the queue. Safe to call more than once.
func (q *inputQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	q.signal()
}

func (q *inputQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *inputQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
