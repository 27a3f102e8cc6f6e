//////////////////////////////////////////////////////////////////////////////
//
// Bounded FIFO of frames between the camera reader and the video emitter.
//
// There is exactly one producer and one consumer. Enqueue blocks while the
// queue is full, which in turn stalls the camera's TCP flow; Dequeue blocks
// while it is empty. Closing the queue lets the consumer drain what is left
// before it sees ErrClosed.
//
// Copyright 2026 The camd Authors. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zenoxygen/camd/internal/frame"
	"github.com/zenoxygen/camd/internal/logging"
)

var log = logging.DefaultLogger.WithTag("queue")

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the queue
// is closed and drained.
var ErrClosed = errors.New("queue closed")

type Queue struct {
	mu       sync.Mutex
	items    []frame.Frame
	capacity int
	closed   bool

	// One-slot wakeup signals. A pending signal may be stale, so waiters
	// always recheck the queue state after waking.
	readable chan struct{}
	writable chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	enqueued  atomic.Uint64
	dequeued  atomic.Uint64
	blocked   atomic.Uint64
	highWater int
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Length    int    `json:"length"`
	HighWater int    `json:"highWater"`
	Enqueued  uint64 `json:"enqueued"`
	Dequeued  uint64 `json:"dequeued"`
	Blocked   uint64 `json:"blockedEnqueues"`
	Closed    bool   `json:"closed"`
}

// New creates a queue holding at most capacity frames. Storage grows on demand,
// so a large capacity costs nothing until it is used.
func New(capacity int) *Queue {
	if capacity < 1 {
		panic("queue: capacity must be positive")
	}
	return &Queue{
		capacity: capacity,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Enqueue appends f, blocking while the queue is full. It returns ErrClosed if
// the queue is closed, or the context error if ctx ends first; in both cases
// f was not accepted.
func (q *Queue) Enqueue(ctx context.Context, f frame.Frame) error {
	waited := false
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, f)
			if n := len(q.items); n > q.highWater {
				q.highWater = n
			}
			q.mu.Unlock()
			q.enqueued.Add(1)
			notify(q.readable)
			return nil
		}
		q.mu.Unlock()

		if !waited {
			waited = true
			q.blocked.Add(1)
			log.Debug("Queue full (%d frames), blocking producer", q.capacity)
		}

		select {
		case <-q.writable:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dequeue removes and returns the oldest frame, blocking while the queue is
// empty. Once the queue is closed, remaining frames are still returned in
// order, after which Dequeue returns ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (frame.Frame, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				// Start over with the backing array so it does not creep.
				q.items = q.items[:0:0]
			}
			q.mu.Unlock()
			q.dequeued.Add(1)
			notify(q.writable)
			return f, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.readable:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the producer side closed and wakes both sides. It is safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		remaining := len(q.items)
		q.mu.Unlock()
		close(q.done)
		log.Debug("Queue closed with %d frames left to drain", remaining)
	})
}

// Len returns the number of frames currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int {
	return q.capacity
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	s := Stats{
		Capacity:  q.capacity,
		Length:    len(q.items),
		HighWater: q.highWater,
		Closed:    q.closed,
	}
	q.mu.Unlock()
	s.Enqueued = q.enqueued.Load()
	s.Dequeued = q.dequeued.Load()
	s.Blocked = q.blocked.Load()
	return s
}
