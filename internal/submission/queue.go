package submission

import "sync"

// signalQueue is an unbounded, thread-safe FIFO of connectivity signals.
//
// Signal may be called from any goroutine (watchers, HTTP handlers) while
// the coordinator loop dequeues. The buffered signal channel coalesces
// wake-ups and is closed by Close so a waiting loop returns promptly.
type signalQueue struct {
	mu      sync.Mutex
	signals []Signal
	closed  bool
	wake    chan struct{}
}

func newSignalQueue() *signalQueue {
	return &signalQueue{
		signals: make([]Signal, 0, 16),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends s. It returns false once the queue is closed.
func (q *signalQueue) Enqueue(s Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.signals = append(q.signals, s)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front signal without blocking.
func (q *signalQueue) TryDequeue() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.signals) == 0 {
		return Signal{}, false
	}
	s := q.signals[0]
	if len(q.signals) == 1 {
		q.signals = q.signals[:0]
	} else {
		q.signals = q.signals[1:]
	}
	return s, true
}

// Wait returns a channel that fires when signals may be available and is
// closed when the queue is closed.
func (q *signalQueue) Wait() <-chan struct{} {
	return q.wake
}

func (q *signalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

// Close stops further enqueues and wakes the loop.
func (q *signalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
}

func (q *signalQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
