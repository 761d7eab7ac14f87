package events

import (
	"sync"
	"sync/atomic"
)

const DefaultCapacity = 4096

// Queue is a bounded multi-producer, single-consumer FIFO.
//
// Push never blocks. The consumer waits on Ready and then drains with Pop
// until it reports empty.
type Queue struct {
	mu    sync.Mutex
	buf   []Event
	head  int
	n     int
	ready chan struct{}

	dropped atomic.Uint64
	onDrop  func(total uint64)
}

type QueueOption func(*Queue)

// WithDropHook is called outside the queue lock each time an event is dropped.
func WithDropHook(fn func(total uint64)) QueueOption {
	return func(q *Queue) { q.onDrop = fn }
}

func NewQueue(capacity int, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		buf:   make([]Event, capacity),
		ready: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push appends e. When the queue is full the oldest event is discarded.
// It reports false if an event was dropped to make room.
func (q *Queue) Push(e Event) bool {
	if e == nil {
		return true
	}
	q.mu.Lock()
	kept := true
	if q.n == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		kept = false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = e
	q.n++
	q.mu.Unlock()

	if !kept {
		total := q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop(total)
		}
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return kept
}

// Pop removes the oldest event. ok is false when the queue is empty.
func (q *Queue) Pop() (e Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil, false
	}
	e = q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return e, true
}

// Ready is signalled after a Push. A single signal may cover several events.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Signal re-arms Ready, for consumers that stop draining before the queue is empty.
func (q *Queue) Signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue) Cap() int { return len(q.buf) }

func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
