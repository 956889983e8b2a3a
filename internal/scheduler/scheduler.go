package scheduler

import "context"

// Scheduler drives the host tick: it polls every computer, applies their
// main-thread work and persists computer records.
type Scheduler interface {
	// Start begins the tick loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single host tick. Used for testing.
	Tick(ctx context.Context) error
}

// Caller runs fn on the host tick goroutine and returns its error.
// HTTP handlers and the script watcher mutate computers through it.
type Caller interface {
	Call(ctx context.Context, fn func() error) error
}
