// Package watchdog tracks how long a script invocation has run without
// yielding and classifies it against a soft and a hard limit.
//
// Only continuous execution counts: RecordYield resets the clock used for the
// limits, so a script that waits for events or yields cooperatively is never
// penalised for wall-clock time spent idle. The total time since the
// invocation started is kept separately for reporting.
package watchdog

import (
	"sync"
	"time"
)

// Status classifies the in-flight invocation.
type Status int

const (
	StatusOK Status = iota
	StatusSoftLimit
	StatusHardLimit
)

// String returns a human-readable status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusSoftLimit:
		return "SOFT_LIMIT"
	case StatusHardLimit:
		return "HARD_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// Reading is the result of one Tick.
type Reading struct {
	Status Status
	// Invocation identifies the invocation the reading belongs to; it changes
	// every time StartInvocation is called.
	Invocation uint64
	// Running is false between invocations.
	Running    bool
	SinceYield time.Duration
	Total      time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is safe for concurrent use: the worker goroutine records
// invocation boundaries while the host tick reads the status.
type Tracker struct {
	soft time.Duration
	hard time.Duration
	now  func() time.Time

	mu         sync.Mutex
	running    bool
	invocation uint64
	started    time.Time
	lastYield  time.Time
	latched    Status
}

// New creates a tracker. A hard limit below the soft limit is raised to it.
func New(soft, hard time.Duration, opts ...Option) *Tracker {
	if hard < soft {
		hard = soft
	}
	t := &Tracker{soft: soft, hard: hard, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartInvocation marks the start of a resume.
func (t *Tracker) StartInvocation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.running = true
	t.invocation++
	t.started = now
	t.lastYield = now
	t.latched = StatusOK
}

// RecordYield resets the time-since-yield counter without touching the
// invocation start.
func (t *Tracker) RecordYield() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.lastYield = t.now()
	t.latched = StatusOK
}

// EndInvocation marks the script as idle.
func (t *Tracker) EndInvocation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.latched = StatusOK
}

// Tick evaluates the in-flight invocation. Within one yield window the
// status never decreases.
func (t *Tracker) Tick() Reading {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Reading{Invocation: t.invocation, Running: t.running}
	if !t.running {
		return r
	}

	now := t.now()
	r.SinceYield = now.Sub(t.lastYield)
	r.Total = now.Sub(t.started)

	status := StatusOK
	switch {
	case r.SinceYield >= t.hard:
		status = StatusHardLimit
	case r.SinceYield >= t.soft:
		status = StatusSoftLimit
	}
	if status > t.latched {
		t.latched = status
	}
	r.Status = t.latched
	return r
}

// Limits returns the configured soft and hard limits.
func (t *Tracker) Limits() (soft, hard time.Duration) {
	return t.soft, t.hard
}
