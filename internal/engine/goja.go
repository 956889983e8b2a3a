package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/me/computerd/pkg/model"
)

// Interrupt messages surfaced as the Errored reason.
const (
	cancelMessage = "Too long without yielding"
	killMessage   = "Computer killed"
)

// wildcardEvent registers a handler for every event.
const wildcardEvent = "*"

// GojaEngine runs computers written in JavaScript.
//
// A program registers handlers with os.on(name, fn) from its top-level code.
// Each event resumes the program by calling the handlers registered for its
// name. A program that registers nothing finishes after Start; one without a
// terminate handler finishes when it receives terminate.
type GojaEngine struct{}

// NewGojaEngine creates a JavaScript engine.
func NewGojaEngine() *GojaEngine {
	return &GojaEngine{}
}

// Name returns "goja".
func (e *GojaEngine) Name() string { return "goja" }

// Boot compiles the program and installs the host API. Top-level code does
// not run until Start.
func (e *GojaEngine) Boot(env Environment, prog Program) (Handle, error) {
	compiled, err := goja.Compile(prog.Name, prog.Source, false)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s: %v", model.ErrScriptEngine, prog.Name, err)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	h := &gojaHandle{
		vm:       vm,
		env:      env,
		program:  compiled,
		handlers: make(map[string][]goja.Callable),
		state:    append([]byte(nil), prog.State...),
	}
	if err := h.install(); err != nil {
		return nil, fmt.Errorf("%w: install api: %v", model.ErrScriptEngine, err)
	}
	return h, nil
}

type gojaHandle struct {
	vm       *goja.Runtime
	env      Environment
	program  *goja.Program
	handlers map[string][]goja.Callable
	exit     string

	running  atomic.Bool
	killed   atomic.Bool
	finished atomic.Bool

	mu    sync.Mutex
	state []byte
}

func (h *gojaHandle) install() error {
	vm := h.vm

	osObj := vm.NewObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"on":               h.jsOn,
		"queueEvent":       h.jsQueueEvent,
		"startTimer":       h.jsStartTimer,
		"cancelTimer":      h.jsCancelTimer,
		"getComputerID":    func(goja.FunctionCall) goja.Value { return vm.ToValue(h.env.ComputerID()) },
		"getComputerLabel": h.jsGetLabel,
		"setComputerLabel": h.jsSetLabel,
		"shutdown":         h.exitWith(ReasonShutdown),
		"reboot":           h.exitWith(ReasonReboot),
		"yield":            func(goja.FunctionCall) goja.Value { h.env.Yield(); return goja.Undefined() },
		"getState":         h.jsGetState,
		"setState":         h.jsSetState,
		"clock":            func(goja.FunctionCall) goja.Value { return vm.ToValue(h.env.Uptime().Seconds()) },
		"epoch":            h.jsEpoch,
		"time":             h.jsTime,
		"day":              h.jsDay,
	} {
		if err := osObj.Set(name, fn); err != nil {
			return fmt.Errorf("os.%s: %w", name, err)
		}
	}

	redstone := vm.NewObject()
	if err := redstone.Set("setOutput", h.jsSetOutput); err != nil {
		return fmt.Errorf("redstone.setOutput: %w", err)
	}
	if err := redstone.Set("getInput", h.jsGetInput); err != nil {
		return fmt.Errorf("redstone.getInput: %w", err)
	}
	if err := redstone.Set("getSides", func(goja.FunctionCall) goja.Value {
		sides := make([]string, len(model.Sides))
		for i, s := range model.Sides {
			sides[i] = string(s)
		}
		return vm.ToValue(sides)
	}); err != nil {
		return fmt.Errorf("redstone.getSides: %w", err)
	}

	peripheral := vm.NewObject()
	if err := peripheral.Set("getType", h.jsPeripheralType); err != nil {
		return fmt.Errorf("peripheral.getType: %w", err)
	}
	if err := peripheral.Set("isPresent", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(h.env.PeripheralType(h.side(call.Argument(0))) != "")
	}); err != nil {
		return fmt.Errorf("peripheral.isPresent: %w", err)
	}
	if err := peripheral.Set("call", h.jsPeripheralCall); err != nil {
		return fmt.Errorf("peripheral.call: %w", err)
	}

	for name, v := range map[string]any{
		"os":         osObj,
		"redstone":   redstone,
		"peripheral": peripheral,
		"print":      h.jsPrint,
	} {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

// Start runs the top-level code.
func (h *gojaHandle) Start() Result {
	res := h.invoke(func() error {
		_, err := h.vm.RunProgram(h.program)
		return err
	})
	if res.Kind == Yielded && len(h.handlers) == 0 {
		h.finished.Store(true)
		return Result{Kind: Returned, Reason: ReasonFinished}
	}
	return res
}

// Resume calls the handlers registered for ev, then the wildcard handlers.
func (h *gojaHandle) Resume(ev model.Event) Result {
	named := h.handlers[ev.Name]
	wildcard := h.handlers[wildcardEvent]
	if ev.IsTerminate() && len(named) == 0 && len(wildcard) == 0 && !h.killed.Load() {
		h.finished.Store(true)
		return Result{Kind: Returned, Reason: ReasonTerminated}
	}

	return h.invoke(func() error {
		args := make([]goja.Value, 0, len(ev.Args)+1)
		for _, a := range ev.Args {
			args = append(args, h.vm.ToValue(a))
		}
		for _, fn := range named {
			if _, err := fn(goja.Undefined(), args...); err != nil {
				return err
			}
			if h.exit != "" {
				return nil
			}
		}
		if len(wildcard) == 0 {
			return nil
		}
		withName := append([]goja.Value{h.vm.ToValue(ev.Name)}, args...)
		for _, fn := range wildcard {
			if _, err := fn(goja.Undefined(), withName...); err != nil {
				return err
			}
			if h.exit != "" {
				return nil
			}
		}
		return nil
	})
}

func (h *gojaHandle) invoke(run func() error) Result {
	if h.killed.Load() {
		return Result{Kind: Errored, Reason: killMessage}
	}
	if h.finished.Load() {
		return Result{Kind: Returned, Reason: h.exit}
	}

	// A cancel aimed at an earlier invocation must not leak into this one.
	h.vm.ClearInterrupt()
	if h.killed.Load() {
		return Result{Kind: Errored, Reason: killMessage}
	}

	h.running.Store(true)
	err := run()
	h.running.Store(false)

	if h.killed.Load() {
		h.finished.Store(true)
		return Result{Kind: Errored, Reason: killMessage}
	}
	if err != nil {
		h.finished.Store(true)
		return Result{Kind: Errored, Reason: describe(err)}
	}
	if h.exit != "" {
		h.finished.Store(true)
		return Result{Kind: Returned, Reason: h.exit}
	}
	return Result{Kind: Yielded}
}

func describe(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprint(interrupted.Value())
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception.Error()
	}
	return err.Error()
}

// RequestCancel interrupts the running invocation. Scripts cannot catch a
// goja interrupt.
func (h *gojaHandle) RequestCancel() {
	if h.running.Load() {
		h.vm.Interrupt(cancelMessage)
	}
}

// ForceKill marks the handle dead before interrupting, so an invocation that
// starts concurrently sees the flag after clearing stale interrupts.
func (h *gojaHandle) ForceKill() {
	h.killed.Store(true)
	h.vm.Interrupt(killMessage)
}

func (h *gojaHandle) Alive() bool {
	return !h.killed.Load() && !h.finished.Load()
}

func (h *gojaHandle) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.state...)
}

func (h *gojaHandle) exitWith(reason string) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		h.exit = reason
		return goja.Undefined()
	}
}

func (h *gojaHandle) jsOn(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(h.vm.NewTypeError("os.on: handler for %q is not a function", name))
	}
	h.handlers[name] = append(h.handlers[name], fn)
	return goja.Undefined()
}

func (h *gojaHandle) jsQueueEvent(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if name == "" || name == "undefined" {
		panic(h.vm.NewTypeError("os.queueEvent: event name required"))
	}
	args := make([]any, 0, len(call.Arguments))
	for _, a := range call.Arguments[1:] {
		args = append(args, a.Export())
	}
	return h.vm.ToValue(h.env.QueueEvent(model.NewEvent(name, args...)))
}

func (h *gojaHandle) jsStartTimer(call goja.FunctionCall) goja.Value {
	return h.vm.ToValue(h.env.StartTimer(call.Argument(0).ToFloat()))
}

func (h *gojaHandle) jsCancelTimer(call goja.FunctionCall) goja.Value {
	h.env.CancelTimer(int(call.Argument(0).ToInteger()))
	return goja.Undefined()
}

func (h *gojaHandle) jsGetLabel(goja.FunctionCall) goja.Value {
	label := h.env.Label()
	if label == "" {
		return goja.Null()
	}
	return h.vm.ToValue(label)
}

func (h *gojaHandle) jsSetLabel(call goja.FunctionCall) goja.Value {
	v := call.Argument(0)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		h.env.SetLabel("")
	} else {
		h.env.SetLabel(v.String())
	}
	return goja.Undefined()
}

func (h *gojaHandle) jsGetState(goja.FunctionCall) goja.Value {
	h.mu.Lock()
	raw := h.state
	h.mu.Unlock()
	if len(raw) == 0 {
		return goja.Null()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		h.env.Logger().Warn("discarding unreadable saved state", "error", err)
		return goja.Null()
	}
	return h.vm.ToValue(v)
}

func (h *gojaHandle) jsSetState(call goja.FunctionCall) goja.Value {
	raw, err := json.Marshal(call.Argument(0).Export())
	if err != nil {
		panic(h.vm.NewTypeError("os.setState: %v", err))
	}
	h.mu.Lock()
	h.state = raw
	h.mu.Unlock()
	return goja.Undefined()
}

func (h *gojaHandle) side(v goja.Value) model.Side {
	side, ok := model.ParseSide(v.String())
	if !ok {
		panic(h.vm.NewTypeError("bad side %q", v.String()))
	}
	return side
}

// hostTime reads the host clock in the locale named by v: "utc" (the
// default) or "local". There is no in-game clock.
func (h *gojaHandle) hostTime(fn string, v goja.Value) time.Time {
	locale := "utc"
	if !goja.IsUndefined(v) && !goja.IsNull(v) {
		locale = strings.ToLower(v.String())
	}
	now := h.env.Now()
	switch locale {
	case "utc":
		return now.UTC()
	case "local":
		// Shift so the UTC fields read as local wall-clock time.
		_, offset := now.Zone()
		return now.UTC().Add(time.Duration(offset) * time.Second)
	}
	panic(h.vm.NewTypeError("%s: unsupported locale %q", fn, locale))
}

func (h *gojaHandle) jsEpoch(call goja.FunctionCall) goja.Value {
	return h.vm.ToValue(h.hostTime("os.epoch", call.Argument(0)).UnixMilli())
}

// jsTime returns the hour of day as a fraction, e.g. 13.5 for 13:30.
func (h *gojaHandle) jsTime(call goja.FunctionCall) goja.Value {
	t := h.hostTime("os.time", call.Argument(0))
	sinceMidnight := t.Sub(t.Truncate(24 * time.Hour))
	return h.vm.ToValue(sinceMidnight.Hours())
}

// jsDay returns whole days since the Unix epoch.
func (h *gojaHandle) jsDay(call goja.FunctionCall) goja.Value {
	t := h.hostTime("os.day", call.Argument(0))
	return h.vm.ToValue(t.Unix() / 86400)
}

func (h *gojaHandle) jsSetOutput(call goja.FunctionCall) goja.Value {
	side := h.side(call.Argument(0))
	level := 0
	switch v := call.Argument(1).Export().(type) {
	case bool:
		if v {
			level = 15
		}
	default:
		level = int(call.Argument(1).ToInteger())
	}
	h.env.SetRedstoneOutput(side, level)
	return goja.Undefined()
}

func (h *gojaHandle) jsGetInput(call goja.FunctionCall) goja.Value {
	return h.vm.ToValue(h.env.GetRedstoneInput(h.side(call.Argument(0))))
}

func (h *gojaHandle) jsPeripheralType(call goja.FunctionCall) goja.Value {
	t := h.env.PeripheralType(h.side(call.Argument(0)))
	if t == "" {
		return goja.Null()
	}
	return h.vm.ToValue(t)
}

func (h *gojaHandle) jsPeripheralCall(call goja.FunctionCall) goja.Value {
	side := h.side(call.Argument(0))
	method := call.Argument(1).String()
	var args []any
	if len(call.Arguments) > 2 {
		for _, a := range call.Arguments[2:] {
			args = append(args, a.Export())
		}
	}
	id, err := h.env.CallPeripheral(side, method, args)
	if err != nil {
		panic(h.vm.NewGoError(err))
	}
	return h.vm.ToValue(id)
}

func (h *gojaHandle) jsPrint(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	h.env.Print(strings.Join(parts, " "))
	return goja.Undefined()
}

var _ Engine = (*GojaEngine)(nil)
var _ Handle = (*gojaHandle)(nil)
