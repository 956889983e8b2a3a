package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/me/computerd/pkg/model"
)

// ─── Mock Engine (for scheduler tests without a script runtime) ─────────────

// MockScript decides how a mock handle reacts to one event. Start passes the
// zero Event. The handle gives access to the environment and to the cancel
// and kill signals, so a script can simulate code that never yields.
type MockScript func(h *MockHandle, ev model.Event) Result

// MockEngine implements Engine with a Go callback instead of a program.
type MockEngine struct {
	Script  MockScript
	BootErr error

	mu      sync.Mutex
	boots   int
	handles []*MockHandle
}

// NewMockEngine creates a mock engine. A nil script yields on every event.
func NewMockEngine(script MockScript) *MockEngine {
	return &MockEngine{Script: script}
}

// Name returns "mock".
func (m *MockEngine) Name() string { return "mock" }

// Boot records the boot and returns a new handle.
func (m *MockEngine) Boot(env Environment, prog Program) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boots++
	if m.BootErr != nil {
		return nil, m.BootErr
	}
	h := &MockHandle{
		env:       env,
		program:   prog,
		script:    m.Script,
		cancelled: make(chan struct{}),
		killed:    make(chan struct{}),
		state:     append([]byte(nil), prog.State...),
	}
	m.handles = append(m.handles, h)
	return h, nil
}

// Boots returns how many times Boot was called.
func (m *MockEngine) Boots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boots
}

// Handles returns every handle booted so far, oldest first.
func (m *MockEngine) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockHandle(nil), m.handles...)
}

// Last returns the most recently booted handle, or nil.
func (m *MockEngine) Last() *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// MockHandle implements Handle for MockEngine.
type MockHandle struct {
	env     Environment
	program Program
	script  MockScript

	cancelOnce sync.Once
	killOnce   sync.Once
	cancelled  chan struct{}
	killed     chan struct{}
	cancels    atomic.Int32
	done       atomic.Bool

	mu     sync.Mutex
	events []model.Event
	state  []byte
}

// Env returns the environment the handle was booted with.
func (h *MockHandle) Env() Environment { return h.env }

// Program returns the booted program.
func (h *MockHandle) Program() Program { return h.program }

// Cancelled is closed by the first RequestCancel.
func (h *MockHandle) Cancelled() <-chan struct{} { return h.cancelled }

// Killed is closed by ForceKill.
func (h *MockHandle) Killed() <-chan struct{} { return h.killed }

// CancelRequests returns how many times RequestCancel was called.
func (h *MockHandle) CancelRequests() int { return int(h.cancels.Load()) }

// Events returns every event delivered through Resume.
func (h *MockHandle) Events() []model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Event(nil), h.events...)
}

// SetState replaces the blob returned by Snapshot.
func (h *MockHandle) SetState(state []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = append([]byte(nil), state...)
}

func (h *MockHandle) Start() Result {
	return h.call(model.Event{})
}

func (h *MockHandle) Resume(ev model.Event) Result {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return h.call(ev)
}

func (h *MockHandle) call(ev model.Event) Result {
	if h.isKilled() {
		return Result{Kind: Errored, Reason: killMessage}
	}
	if h.done.Load() {
		return Result{Kind: Returned, Reason: ReasonFinished}
	}

	res := Result{Kind: Yielded}
	switch {
	case h.script != nil:
		res = h.script(h, ev)
	case ev.IsTerminate():
		res = Result{Kind: Returned, Reason: ReasonTerminated}
	}

	if h.isKilled() {
		return Result{Kind: Errored, Reason: killMessage}
	}
	if res.Kind != Yielded {
		h.done.Store(true)
	}
	return res
}

func (h *MockHandle) isKilled() bool {
	select {
	case <-h.killed:
		return true
	default:
		return false
	}
}

func (h *MockHandle) RequestCancel() {
	h.cancels.Add(1)
	h.cancelOnce.Do(func() { close(h.cancelled) })
}

func (h *MockHandle) ForceKill() {
	h.killOnce.Do(func() { close(h.killed) })
}

func (h *MockHandle) Alive() bool {
	return !h.isKilled() && !h.done.Load()
}

func (h *MockHandle) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.state...)
}

// ErrMockBoot is a ready-made boot failure for tests.
var ErrMockBoot = errors.New("mock boot failure")

var _ Engine = (*MockEngine)(nil)
var _ Handle = (*MockHandle)(nil)
