// Package computer implements the per-computer worker: one goroutine that
// drives a script engine handle, watched from the host tick.
//
// A Worker has two sides. The host side (TurnOn, TurnOff, Poll, the setters
// and Info) must only be called from the host tick goroutine. The execution
// side is the worker goroutine started by TurnOn; it pops events and resumes
// the engine, and it never touches host state directly: everything
// host-visible goes through the main-thread work queue and is applied by
// Poll. QueueEvent is the one method safe to call from anywhere.
package computer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/mainthread"
	"github.com/me/computerd/internal/metrics"
	"github.com/me/computerd/internal/queue"
	"github.com/me/computerd/internal/watchdog"
	"github.com/me/computerd/pkg/model"
)

// Worker owns one computer's execution.
type Worker struct {
	id         int
	instanceID string
	engine     engine.Engine
	loader     engine.Loader
	work       *mainthread.Queue
	opts       Options
	logger     *slog.Logger

	// Host side.
	state       model.ComputerState
	crash       *model.CrashReason
	run         *run
	blob        []byte
	tick        uint64
	timers      map[int]uint64
	outputs     [6]int
	terminal    []string
	peripherals map[model.Side]Peripheral
	dropped     uint64
	sincePing   uint64
	// stopBy is when a graceful stop gives up waiting; restart turns the
	// computer back on once that stop completes.
	stopBy  time.Time
	restart bool

	usage usage

	// Queue of the current run, nil while off.
	events atomic.Pointer[queue.Queue]

	// Written by the host, read by the worker goroutine.
	mu     sync.RWMutex
	label  string
	inputs [6]int
	types  map[model.Side]string
}

// New creates a stopped worker for computer id.
func New(id int, eng engine.Engine, loader engine.Loader, work *mainthread.Queue, opts Options, logger *slog.Logger) *Worker {
	instanceID := uuid.New().String()
	return &Worker{
		id:          id,
		instanceID:  instanceID,
		engine:      eng,
		loader:      loader,
		work:        work,
		opts:        opts.WithDefaults(),
		logger:      logging.ForComputer(logger, id, instanceID),
		state:       model.ComputerStateStopped,
		timers:      make(map[int]uint64),
		peripherals: make(map[model.Side]Peripheral),
		types:       make(map[model.Side]string),
	}
}

// run is one boot of the computer. A run that was force-killed is abandoned:
// its goroutine may linger inside the engine, but its ticket is fenced off
// and nothing on the host side looks at it again.
type run struct {
	ticket  mainthread.Ticket
	queue   *queue.Queue
	tracker *watchdog.Tracker

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	booted   atomic.Bool

	nextTimer atomic.Int64
	nextTask  atomic.Int64
	// ticks counts host ticks since boot.
	ticks atomic.Uint64
	usage *usage

	mu     sync.Mutex
	handle engine.Handle
	dead   bool
	exit   engine.Result

	// Host side.
	cancelInvocation uint64
}

func (r *run) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// attach publishes the booted handle. It returns false if the run was killed
// while booting.
func (r *run) attach(h engine.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	r.handle = h
	return true
}

func (r *run) currentHandle() engine.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

func (r *run) setExit(res engine.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exit = res
}

func (r *run) result() engine.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exit
}

// ID returns the computer id.
func (w *Worker) ID() int { return w.id }

// InstanceID returns the id of this worker instance, unique per process.
func (w *Worker) InstanceID() string { return w.instanceID }

// State returns the lifecycle state.
func (w *Worker) State() model.ComputerState { return w.state }

// CrashReason returns why the last run crashed, or nil.
func (w *Worker) CrashReason() *model.CrashReason { return w.crash }

// Label returns the computer label.
func (w *Worker) Label() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.label
}

// SetLabel changes the computer label.
func (w *Worker) SetLabel(label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.label = label
}

// Snapshot returns the engine state blob: the live one while running,
// otherwise the one saved when the last run stopped cleanly.
func (w *Worker) Snapshot() []byte {
	if r := w.run; r != nil {
		if h := r.currentHandle(); h != nil {
			return h.Snapshot()
		}
	}
	return append([]byte(nil), w.blob...)
}

// SetSnapshot replaces the stored blob used by the next boot.
func (w *Worker) SetSnapshot(blob []byte) {
	w.blob = append([]byte(nil), blob...)
}

func (w *Worker) transition(to model.ComputerState) error {
	if !w.state.CanTransitionTo(to) {
		err := &model.InvalidTransitionError{ID: w.id, From: w.state, To: to}
		w.logger.Error("rejected state transition", "error", err)
		return err
	}
	w.state = to
	return nil
}

// TurnOn boots the computer. It is a no-op if the computer is already on; a
// crashed computer is cleaned up and booted again, and a stopping one boots
// once its stop completes.
func (w *Worker) TurnOn() error {
	switch w.state {
	case model.ComputerStateStarting, model.ComputerStateRunning:
		return nil
	case model.ComputerStateStopping:
		w.restart = true
		return nil
	case model.ComputerStateCrashed:
		if err := w.transition(model.ComputerStateStopped); err != nil {
			return err
		}
	}
	if err := w.transition(model.ComputerStateStarting); err != nil {
		return err
	}

	r := &run{
		ticket:  w.work.Open(w.id),
		queue:   queue.New(w.opts.QueueCapacity),
		tracker: watchdog.New(w.opts.SoftTimeout, w.opts.HardTimeout, watchdog.WithClock(w.opts.Clock)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		usage:   &w.usage,
	}
	w.crash = nil
	w.run = r
	clear(w.timers)
	w.events.Store(r.queue)

	metrics.Boots.Inc()
	w.logger.Info("computer turning on", "engine", w.engine.Name())
	go w.execute(r, append([]byte(nil), w.blob...))
	return nil
}

// TurnOff stops the computer. A forced stop kills the program and returns in
// STOPPED. A graceful stop queues terminate and returns at once in STOPPING;
// Poll completes it when the program exits or the shutdown grace period
// runs out.
func (w *Worker) TurnOff(graceful bool) {
	w.restart = false
	if !w.BeginStop() || graceful {
		return
	}
	w.FinishStop()
}

// Reboot turns the computer off gracefully. It boots again from Poll once
// the stop completes; a computer that is already off boots now.
func (w *Worker) Reboot() error {
	switch w.state {
	case model.ComputerStateStopped, model.ComputerStateCrashed:
		return w.TurnOn()
	}
	w.TurnOff(true)
	w.restart = true
	return nil
}

// pollStop finishes a graceful stop once the program has exited or its
// deadline has passed.
func (w *Worker) pollStop() {
	r := w.run
	if r == nil || (!r.finished() && w.opts.Clock().Before(w.stopBy)) {
		return
	}
	restart := w.restart
	if !w.FinishStop() {
		metrics.ShutdownTimeouts.Inc()
		w.logger.Warn("computer did not stop in time; killed", "grace", w.opts.ShutdownGrace, "error", model.ErrShutdownTimeout)
	}
	if restart {
		if err := w.TurnOn(); err != nil {
			w.logger.Error("reboot failed", "error", err)
		}
	}
}

// BeginStop moves the computer to STOPPING and asks its program to exit. It
// returns false when there is no run to wait for; a crashed computer is
// moved straight to STOPPED.
func (w *Worker) BeginStop() bool {
	switch w.state {
	case model.ComputerStateStopped:
		return false
	case model.ComputerStateCrashed:
		_ = w.transition(model.ComputerStateStopped)
		return false
	case model.ComputerStateStopping:
		return w.run != nil
	}

	r := w.run
	if err := w.transition(model.ComputerStateStopping); err != nil {
		return false
	}
	w.stopBy = w.opts.Clock().Add(w.opts.ShutdownGrace)
	w.events.Store(nil)
	r.queue.Push(model.Terminate())
	r.signalStop()
	return true
}

// Done is closed once the current run's goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	if w.run == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.run.done
}

// FinishStop completes a stop started by BeginStop. A goroutine that has not
// exited yet is force-killed and its pending work discarded. It returns true
// if the program exited on its own.
func (w *Worker) FinishStop() bool {
	w.restart = false
	r := w.run
	if r == nil || w.state != model.ComputerStateStopping {
		return true
	}

	clean := r.finished()
	if clean {
		if res := r.result(); res.Kind != engine.Errored {
			if h := r.currentHandle(); h != nil {
				w.blob = h.Snapshot()
			}
		}
		w.work.Close(w.id)
	} else {
		w.kill(r)
	}
	w.endRun(r)
	_ = w.transition(model.ComputerStateStopped)
	w.logger.Info("computer stopped", "clean", clean)
	return clean
}

// kill makes the run authoritatively dead. The goroutine is not waited for.
func (w *Worker) kill(r *run) {
	r.mu.Lock()
	r.dead = true
	h := r.handle
	r.mu.Unlock()

	if n := w.work.Discard(w.id); n > 0 {
		metrics.WorkItemsDiscarded.Add(float64(n))
		w.logger.Debug("discarded pending work", "items", n)
	}
	if h != nil {
		h.ForceKill()
	}
	r.signalStop()
}

func (w *Worker) endRun(r *run) {
	w.dropped += r.queue.Dropped()
	w.events.Store(nil)
	r.queue.Close()
	clear(w.timers)
	w.run = nil
}

func (w *Worker) crashWith(code model.CrashCode, msg string) {
	w.crash = &model.CrashReason{Code: code, Message: msg, At: w.opts.Clock()}
	_ = w.transition(model.ComputerStateCrashed)
	metrics.Crashes.WithLabelValues(string(code)).Inc()
	w.logger.Error("computer crashed", "error", w.crash)
}

// QueueEvent adds an event to the running computer's queue. It returns false
// if the computer is not on or if the queue was full and an older event was
// dropped. Safe for concurrent use.
func (w *Worker) QueueEvent(ev model.Event) bool {
	q := w.events.Load()
	if q == nil {
		return false
	}
	ok := q.Push(ev)
	switch {
	case ok:
		metrics.EventsQueued.Inc()
	case !q.Closed():
		metrics.EventsQueued.Inc()
		metrics.EventsDropped.Inc()
		w.logger.Debug("dropped oldest event", "event", ev.Name, "error", model.ErrQueueFull)
	}
	return ok
}

// Poll runs once per host tick: it checks the watchdog, reaps a finished
// run, applies at most MaxWorkPerTick work items and fires due timers. It
// returns the number of work items applied.
func (w *Worker) Poll() int {
	w.tick++
	w.sincePing++
	if r := w.run; r != nil {
		r.ticks.Add(1)
	}

	if w.state == model.ComputerStateStopping {
		w.pollStop()
	}
	if r := w.run; r != nil && w.state != model.ComputerStateStopping {
		w.watch(r)
	}
	if r := w.run; r != nil && w.state != model.ComputerStateStopping {
		if r.finished() {
			w.reap(r)
		} else if w.state == model.ComputerStateStarting && r.booted.Load() {
			_ = w.transition(model.ComputerStateRunning)
		}
	}

	n := w.applyWork()
	w.fireTimers()
	return n
}

func (w *Worker) watch(r *run) {
	reading := r.tracker.Tick()
	switch reading.Status {
	case watchdog.StatusSoftLimit:
		if r.cancelInvocation == reading.Invocation {
			return
		}
		r.cancelInvocation = reading.Invocation
		if h := r.currentHandle(); h != nil {
			h.RequestCancel()
		}
		metrics.SoftTimeouts.Inc()
		w.logger.Warn("script is taking too long without yielding; requesting cancel",
			"since_yield", reading.SinceYield, "error", model.ErrSoftTimeout)

	case watchdog.StatusHardLimit:
		metrics.HardTimeouts.Inc()
		w.logger.Error("script exceeded hard limit; forcing termination",
			"since_yield", reading.SinceYield, "error", model.ErrHardTimeout)
		w.kill(r)
		w.endRun(r)
		w.crashWith(model.CrashHardTimeout, fmt.Sprintf("no yield for %s", reading.SinceYield.Round(time.Millisecond)))
	}
}

// reap handles a goroutine that exited without being asked to stop.
func (w *Worker) reap(r *run) {
	res := r.result()
	w.work.Close(w.id)

	if res.Kind == engine.Errored {
		code := model.CrashScriptError
		if r.cancelInvocation != 0 && r.cancelInvocation == r.tracker.Tick().Invocation {
			code = model.CrashSoftTimeout
		}
		w.endRun(r)
		w.crashWith(code, res.Reason)
		return
	}

	if h := r.currentHandle(); h != nil {
		w.blob = h.Snapshot()
	}
	w.endRun(r)
	_ = w.transition(model.ComputerStateStopping)
	_ = w.transition(model.ComputerStateStopped)
	w.logger.Info("computer shut down", "reason", res.Reason)

	if res.Reason == engine.ReasonReboot {
		if err := w.TurnOn(); err != nil {
			w.logger.Error("reboot failed", "error", err)
		}
	}
}

func (w *Worker) applyWork() int {
	actions := w.work.DrainFor(w.id, w.opts.MaxWorkPerTick)
	if len(actions) == 0 {
		return 0
	}
	start := time.Now()
	for _, a := range actions {
		w.apply(a)
	}
	w.usage.work(len(actions), time.Since(start))
	metrics.WorkItems.Add(float64(len(actions)))
	return len(actions)
}

// KeepAlive resets the ticks-since-ping counter.
func (w *Worker) KeepAlive() { w.sincePing = 0 }

// TicksSincePing returns how many host ticks passed since the last KeepAlive.
func (w *Worker) TicksSincePing() uint64 { return w.sincePing }

// apply runs one action, isolating the host tick from a panicking peripheral.
func (w *Worker) apply(a mainthread.Action) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("work item panicked", "panic", p)
		}
	}()
	a()
}

func (w *Worker) fireTimers() {
	if len(w.timers) == 0 {
		return
	}
	q := w.events.Load()
	if q == nil {
		clear(w.timers)
		return
	}
	var due []int
	for id, at := range w.timers {
		if w.tick >= at {
			due = append(due, id)
		}
	}
	sort.Ints(due)
	for _, id := range due {
		delete(w.timers, id)
		w.QueueEvent(model.Timer(id))
	}
}

// SetRedstoneInput sets the input level on side, clamped to 0..15, and
// queues a redstone event when it changed.
func (w *Worker) SetRedstoneInput(side model.Side, level int) error {
	idx := side.Index()
	if idx < 0 {
		return fmt.Errorf("invalid side %q", side)
	}
	level = clampLevel(level)

	w.mu.Lock()
	changed := w.inputs[idx] != level
	w.inputs[idx] = level
	w.mu.Unlock()

	if changed {
		w.QueueEvent(model.Redstone())
	}
	return nil
}

// RedstoneOutput returns the output level the program set on side.
func (w *Worker) RedstoneOutput(side model.Side) int {
	if idx := side.Index(); idx >= 0 {
		return w.outputs[idx]
	}
	return 0
}

func clampLevel(level int) int {
	return max(0, min(15, level))
}

// AttachPeripheral puts p on side, replacing whatever was there.
func (w *Worker) AttachPeripheral(side model.Side, p Peripheral) error {
	if side.Index() < 0 {
		return fmt.Errorf("invalid side %q", side)
	}
	if _, ok := w.peripherals[side]; ok {
		w.DetachPeripheral(side)
	}
	w.peripherals[side] = p
	w.mu.Lock()
	w.types[side] = p.Type()
	w.mu.Unlock()
	w.QueueEvent(model.PeripheralAttached(side))
	return nil
}

// DetachPeripheral removes the peripheral on side. It returns false if the
// side was empty.
func (w *Worker) DetachPeripheral(side model.Side) bool {
	if _, ok := w.peripherals[side]; !ok {
		return false
	}
	delete(w.peripherals, side)
	w.mu.Lock()
	delete(w.types, side)
	w.mu.Unlock()
	w.QueueEvent(model.PeripheralDetached(side))
	return true
}

func (w *Worker) callPeripheral(r *run, id int, side model.Side, method string, args []any) {
	if w.run != r {
		return
	}
	p, ok := w.peripherals[side]
	if !ok {
		w.QueueEvent(model.TaskComplete(id, false, "No peripheral attached"))
		return
	}
	w.usage.peripheralCall()
	results, err := p.Call(method, args)
	if err != nil {
		w.QueueEvent(model.TaskComplete(id, false, err.Error()))
		return
	}
	w.QueueEvent(model.TaskComplete(id, true, results...))
}

func (w *Worker) appendTerminal(text string) {
	if w.opts.Output != nil {
		fmt.Fprintln(w.opts.Output, text)
	}
	w.terminal = append(w.terminal, strings.Split(text, "\n")...)
	if over := len(w.terminal) - w.opts.TerminalLines; over > 0 {
		w.terminal = append(w.terminal[:0:0], w.terminal[over:]...)
	}
}

// Terminal returns the retained terminal lines, oldest first.
func (w *Worker) Terminal() []string {
	return append([]string(nil), w.terminal...)
}

// Record returns the persisted form of the computer.
func (w *Worker) Record() model.ComputerRecord {
	return model.ComputerRecord{
		ID:        w.id,
		Label:     w.Label(),
		On:        w.state.IsOn() || w.restart,
		State:     w.Snapshot(),
		UpdatedAt: w.opts.Clock().UTC(),
	}
}

// Info returns a point-in-time view of the computer.
func (w *Worker) Info() model.ComputerInfo {
	info := model.ComputerInfo{
		ID:         w.id,
		InstanceID: w.InstanceID(),
		Label:      w.Label(),
		State:      w.state,
		On:         w.state.IsOn() || w.restart,
		Crash:      w.crash,
		Dropped:    w.dropped,
		Terminal:   w.Terminal(),
		Usage:      w.usage.snapshot(),
	}
	if q := w.events.Load(); q != nil {
		info.QueueLen = q.Len()
		info.QueueCap = q.Capacity()
		info.Dropped += q.Dropped()
	}
	for i, level := range w.outputs {
		if level == 0 {
			continue
		}
		if info.Redstone == nil {
			info.Redstone = make(map[model.Side]int)
		}
		info.Redstone[model.Sides[i]] = level
	}
	for side, p := range w.peripherals {
		if info.Peripheral == nil {
			info.Peripheral = make(map[model.Side]string)
		}
		info.Peripheral[side] = p.Type()
	}
	return info
}
