// Package engine defines the contract between a computer worker and the
// script engine that runs the computer's program.
//
// An Engine compiles a program into a Handle. The handle is driven by exactly
// one goroutine (the computer's worker) through Start and Resume; only
// RequestCancel, ForceKill, Alive and Snapshot may be called from other
// goroutines.
package engine

import (
	"log/slog"
	"time"

	"github.com/me/computerd/pkg/model"
)

// ResultKind classifies how an invocation ended.
type ResultKind int

const (
	// Yielded means the program is waiting for the next event.
	Yielded ResultKind = iota
	// Returned means the program finished on its own.
	Returned
	// Errored means the program raised an error or was interrupted.
	Errored
)

// String returns a human-readable result kind.
func (k ResultKind) String() string {
	switch k {
	case Yielded:
		return "yielded"
	case Returned:
		return "returned"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Reasons attached to a Returned result.
const (
	ReasonFinished   = "finished"
	ReasonShutdown   = "shutdown"
	ReasonReboot     = "reboot"
	ReasonTerminated = "terminated"
)

// Result is the outcome of Start or Resume.
type Result struct {
	Kind   ResultKind
	Reason string
}

// Program is the code a computer boots, plus the opaque state blob saved by
// the previous run.
type Program struct {
	Name   string
	Source string
	State  []byte
}

// Environment is the host API a running program sees. Every method is called
// from the worker goroutine. Methods that change host-visible state do not
// apply immediately: they are deferred to the host tick.
type Environment interface {
	ComputerID() int
	Label() string
	SetLabel(label string)
	Print(line string)

	SetRedstoneOutput(side model.Side, level int)
	GetRedstoneInput(side model.Side) int

	// QueueEvent adds an event to the computer's own queue.
	QueueEvent(ev model.Event) bool
	// StartTimer schedules a timer event and returns its id.
	StartTimer(seconds float64) int
	CancelTimer(id int)

	// PeripheralType returns the type of the peripheral on side, or "".
	PeripheralType(side model.Side) string
	// CallPeripheral schedules a peripheral method call on the host tick and
	// returns a task id. The result arrives as a task_complete event.
	CallPeripheral(side model.Side, method string, args []any) (int, error)

	// Uptime is the time since boot, counted in host ticks.
	Uptime() time.Duration
	// Now reads the host wall clock.
	Now() time.Time

	// Yield tells the watchdog the program made progress.
	Yield()
	Logger() *slog.Logger
}

// Handle is one booted program.
type Handle interface {
	// Start runs the program's top-level code.
	Start() Result
	// Resume delivers one event.
	Resume(ev model.Event) Result
	// RequestCancel asks the in-flight invocation to stop at the next safe
	// point. It is a no-op when nothing is running.
	RequestCancel()
	// ForceKill makes the handle permanently dead. Any in-flight invocation
	// is interrupted and every later call returns Errored.
	ForceKill()
	Alive() bool
	// Snapshot returns the program's opaque state blob.
	Snapshot() []byte
}

// Engine compiles programs.
type Engine interface {
	Name() string
	Boot(env Environment, prog Program) (Handle, error)
}
