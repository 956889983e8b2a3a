// Package queue implements the bounded per-computer event queue.
//
// The queue has one producer side (the manager, host callbacks and the
// computer's own script) and exactly one consumer, the computer's worker
// goroutine. A terminate event always jumps to the front; every other event
// counts against the capacity and evicts the oldest pending event once full.
package queue

import (
	"sync"
	"time"

	"github.com/me/computerd/pkg/model"
)

// Queue is a bounded FIFO of events with a priority lane for terminate.
type Queue struct {
	mu       sync.Mutex
	events   []model.Event
	capacity int
	normal   int // events in the queue that count against capacity
	dropped  uint64
	closed   bool
	signal   chan struct{} // buffered, size 1; coalesces wakeups
	done     chan struct{} // closed by Close
}

// New creates a queue holding at most capacity non-terminate events.
// A capacity below 1 is treated as 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		events:   make([]model.Event, 0, min(capacity, 64)),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push adds an event and wakes the consumer.
//
// It returns false if the queue is closed, or if accepting the event evicted
// the oldest pending event (the QueueFull condition, counted by Dropped).
// Terminate events are never subject to the capacity.
func (q *Queue) Push(ev model.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	accepted := true
	if ev.IsTerminate() {
		q.events = append(q.events, model.Event{})
		copy(q.events[1:], q.events)
		q.events[0] = ev
	} else {
		if q.normal >= q.capacity {
			q.evictOldestLocked()
			accepted = false
		}
		q.events = append(q.events, ev)
		q.normal++
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return accepted
}

// evictOldestLocked removes the first non-terminate event.
func (q *Queue) evictOldestLocked() {
	for i, ev := range q.events {
		if ev.IsTerminate() {
			continue
		}
		copy(q.events[i:], q.events[i+1:])
		q.events[len(q.events)-1] = model.Event{}
		q.events = q.events[:len(q.events)-1]
		q.normal--
		q.dropped++
		return
	}
}

// TryPop removes and returns the front event without blocking.
func (q *Queue) TryPop() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (model.Event, bool) {
	if len(q.events) == 0 {
		return model.Event{}, false
	}
	ev := q.events[0]
	q.events[0] = model.Event{}
	q.events = q.events[1:]
	if !ev.IsTerminate() {
		q.normal--
	}
	return ev, true
}

// PopBlocking waits up to timeout for an event. It returns false on timeout
// and immediately once the queue is closed.
func (q *Queue) PopBlocking(timeout time.Duration) (model.Event, bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return model.Event{}, false
		}
		if ev, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-q.signal:
		case <-q.done:
			return model.Event{}, false
		case <-timer.C:
			return model.Event{}, false
		}
	}
}

// Clear discards every pending event. Cleared events are not counted as dropped.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.events)
	q.events = q.events[:0]
	q.normal = 0
}

// Close permanently closes the queue and wakes any blocked consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.events = nil
	q.normal = 0
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events were evicted by the capacity policy.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Capacity returns the configured capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}
