package computer

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/mainthread"
	"github.com/me/computerd/internal/metrics"
	"github.com/me/computerd/pkg/model"
)

// execute is the worker goroutine. It closes r.done when it returns.
func (w *Worker) execute(r *run, blob []byte) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			r.setExit(engine.Result{Kind: engine.Errored, Reason: fmt.Sprintf("panic: %v", p)})
		}
	}()

	prog, err := w.loader.Load(w.id)
	if err != nil {
		r.setExit(engine.Result{Kind: engine.Errored, Reason: err.Error()})
		return
	}
	prog.State = blob

	h, err := w.engine.Boot(&environment{w: w, r: r}, prog)
	if err != nil {
		r.setExit(engine.Result{Kind: engine.Errored, Reason: err.Error()})
		return
	}
	if !r.attach(h) {
		h.ForceKill()
		return
	}

	if r.invoke(h.Start) {
		return
	}
	r.booted.Store(true)

	for {
		ev, ok := r.queue.PopBlocking(w.opts.PollInterval)
		if ok && r.invoke(func() engine.Result { return h.Resume(ev) }) {
			return
		}
		if r.stopping() {
			// Terminate sits at the front of the queue; give the program one
			// chance to see it before the goroutine exits.
			if ev, ok := r.queue.TryPop(); ok && ev.IsTerminate() {
				r.invoke(func() engine.Result { return h.Resume(ev) })
			}
			return
		}
		if !ok && r.queue.Closed() {
			return
		}
	}
}

// invoke runs one engine call under the watchdog. It returns true when the
// program is finished.
func (r *run) invoke(call func() engine.Result) bool {
	r.tracker.StartInvocation()
	start := time.Now()
	res := call()
	r.tracker.EndInvocation()
	elapsed := time.Since(start)

	r.usage.invocation(elapsed)
	metrics.InvocationDuration.Observe(elapsed.Seconds())
	metrics.Invocations.WithLabelValues(res.Kind.String()).Inc()
	if res.Kind == engine.Yielded {
		return false
	}
	r.setExit(res)
	return true
}

// environment is the engine.Environment of one run. Its methods run on the
// worker goroutine; host-visible effects are submitted as work items under
// the run's ticket.
type environment struct {
	w *Worker
	r *run
}

func (e *environment) submit(a mainthread.Action) bool {
	return e.w.work.Submit(e.r.ticket, a)
}

func (e *environment) ComputerID() int { return e.w.id }

func (e *environment) Label() string { return e.w.Label() }

func (e *environment) SetLabel(label string) {
	e.submit(func() { e.w.SetLabel(label) })
}

func (e *environment) Print(line string) {
	e.submit(func() { e.w.appendTerminal(line) })
}

func (e *environment) SetRedstoneOutput(side model.Side, level int) {
	idx := side.Index()
	if idx < 0 {
		return
	}
	level = clampLevel(level)
	e.submit(func() { e.w.outputs[idx] = level })
}

func (e *environment) GetRedstoneInput(side model.Side) int {
	idx := side.Index()
	if idx < 0 {
		return 0
	}
	e.w.mu.RLock()
	defer e.w.mu.RUnlock()
	return e.w.inputs[idx]
}

func (e *environment) QueueEvent(ev model.Event) bool {
	ok := e.r.queue.Push(ev)
	if ok {
		metrics.EventsQueued.Inc()
	}
	return ok
}

func (e *environment) StartTimer(seconds float64) int {
	id := int(e.r.nextTimer.Add(1))
	ticks := uint64(1)
	if t := math.Ceil(seconds * float64(e.w.opts.TickRate)); t > 1 {
		ticks = uint64(t)
	}
	e.submit(func() {
		if e.w.run == e.r {
			e.w.timers[id] = e.w.tick + ticks
		}
	})
	return id
}

func (e *environment) CancelTimer(id int) {
	e.submit(func() {
		if e.w.run == e.r {
			delete(e.w.timers, id)
		}
	})
}

func (e *environment) PeripheralType(side model.Side) string {
	e.w.mu.RLock()
	defer e.w.mu.RUnlock()
	return e.w.types[side]
}

func (e *environment) CallPeripheral(side model.Side, method string, args []any) (int, error) {
	if side.Index() < 0 {
		return 0, fmt.Errorf("invalid side %q", side)
	}
	id := int(e.r.nextTask.Add(1))
	args = append([]any(nil), args...)
	if !e.submit(func() { e.w.callPeripheral(e.r, id, side, method, args) }) {
		return 0, fmt.Errorf("computer %d is shutting down", e.w.id)
	}
	return id, nil
}

func (e *environment) Uptime() time.Duration {
	return time.Duration(e.r.ticks.Load()) * time.Second / time.Duration(e.w.opts.TickRate)
}

func (e *environment) Now() time.Time { return e.w.opts.Clock() }

func (e *environment) Yield() {
	e.r.tracker.RecordYield()
}

func (e *environment) Logger() *slog.Logger { return e.w.logger }

var _ engine.Environment = (*environment)(nil)
