// Package mainthread holds deferred host mutations produced by computer
// workers until the host tick applies them.
//
// Many worker goroutines submit; only the host tick drains. Items are kept in
// one lane per computer so each computer's items apply in submission order;
// there is no ordering between lanes. The lock is held only while appending
// or slicing, never while an action runs.
package mainthread

import "sync"

// Action is a deferred mutation. It runs on the host tick goroutine.
type Action func()

// Ticket authorises submissions for one run of one computer. A ticket from a
// previous run is rejected, which fences off goroutines that were abandoned
// after a forced kill.
type Ticket struct {
	Computer int
	Epoch    uint64
}

type lane struct {
	epoch uint64
	open  bool
	items []Action
}

// Queue is the multi-producer, single-consumer work queue.
type Queue struct {
	mu        sync.Mutex
	lanes     map[int]*lane
	nextEpoch uint64
	rejected  uint64
	discarded uint64
}

// New creates an empty work queue.
func New() *Queue {
	return &Queue{lanes: make(map[int]*lane)}
}

// Open starts a new run for computer id and returns its ticket. Items still
// pending from an earlier run are kept; submissions with older tickets are
// rejected from now on.
func (q *Queue) Open(id int) Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextEpoch++
	l := q.laneLocked(id)
	l.epoch = q.nextEpoch
	l.open = true
	return Ticket{Computer: id, Epoch: l.epoch}
}

func (q *Queue) laneLocked(id int) *lane {
	l, ok := q.lanes[id]
	if !ok {
		l = &lane{}
		q.lanes[id] = l
	}
	return l
}

// Submit appends an action if the ticket is still current. It is safe to call
// from any goroutine.
func (q *Queue) Submit(t Ticket, a Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[t.Computer]
	if !ok || !l.open || l.epoch != t.Epoch {
		q.rejected++
		return false
	}
	l.items = append(l.items, a)
	return true
}

// DrainFor removes up to max pending actions for computer id, oldest first.
// A max below 1 drains everything. Must only be called from the host tick.
func (q *Queue) DrainFor(id, max int) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[id]
	if !ok || len(l.items) == 0 {
		return nil
	}
	n := len(l.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Action, n)
	copy(out, l.items[:n])
	clear(l.items[:n])
	l.items = l.items[n:]
	if len(l.items) == 0 {
		l.items = nil
	}
	return out
}

// Close stops accepting submissions for the current run and keeps whatever
// is already queued.
func (q *Queue) Close(id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[id]; ok {
		l.open = false
	}
}

// Discard closes the lane and drops its pending actions without running them.
// It returns the number of actions dropped.
func (q *Queue) Discard(id int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[id]
	if !ok {
		return 0
	}
	n := len(l.items)
	l.open = false
	l.items = nil
	q.discarded += uint64(n)
	return n
}

// Remove discards everything for a destroyed computer and forgets its lane.
func (q *Queue) Remove(id int) int {
	n := q.Discard(id)
	q.mu.Lock()
	delete(q.lanes, id)
	q.mu.Unlock()
	return n
}

// Len returns the number of pending actions for computer id.
func (q *Queue) Len(id int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[id]; ok {
		return len(l.items)
	}
	return 0
}

// Stats returns how many submissions were rejected and how many queued
// actions were discarded.
func (q *Queue) Stats() (rejected, discarded uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rejected, q.discarded
}
