package model

// Built-in event names. Scripts may queue events with any other name.
const (
	EventTerminate        = "terminate"
	EventTimer            = "timer"
	EventRedstone         = "redstone"
	EventKey              = "key"
	EventKeyUp            = "key_up"
	EventChar             = "char"
	EventPaste            = "paste"
	EventMouseClick       = "mouse_click"
	EventMouseUp          = "mouse_up"
	EventMouseDrag        = "mouse_drag"
	EventMouseScroll      = "mouse_scroll"
	EventPeripheral       = "peripheral"
	EventPeripheralDetach = "peripheral_detach"
	EventTaskComplete     = "task_complete"
	EventFileChanged      = "file_changed"
)

// Event is a named input delivered to a computer's script engine.
// Args are opaque to the scheduler and must not be mutated after queueing.
type Event struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

// NewEvent builds an event, copying args so the caller may reuse its slice.
func NewEvent(name string, args ...any) Event {
	ev := Event{Name: name}
	if len(args) > 0 {
		ev.Args = append([]any(nil), args...)
	}
	return ev
}

// IsTerminate reports whether the event jumps the queue.
func (e Event) IsTerminate() bool {
	return e.Name == EventTerminate
}

// Terminate asks the running program to stop.
func Terminate() Event { return Event{Name: EventTerminate} }

// Timer fires when a timer started by the script expires.
func Timer(id int) Event { return NewEvent(EventTimer, id) }

// Redstone signals that a redstone input changed.
func Redstone() Event { return Event{Name: EventRedstone} }

// KeyDown reports a key press.
func KeyDown(key int, repeat bool) Event { return NewEvent(EventKey, key, repeat) }

// KeyUp reports a key release.
func KeyUp(key int) Event { return NewEvent(EventKeyUp, key) }

// CharTyped reports a typed character.
func CharTyped(c string) Event { return NewEvent(EventChar, c) }

// Paste delivers pasted text.
func Paste(text string) Event { return NewEvent(EventPaste, text) }

// Mouse builds one of the mouse_* events.
func Mouse(name string, button, x, y int) Event { return NewEvent(name, button, x, y) }

// PeripheralAttached reports a peripheral appearing on side.
func PeripheralAttached(side Side) Event { return NewEvent(EventPeripheral, string(side)) }

// PeripheralDetached reports a peripheral leaving side.
func PeripheralDetached(side Side) Event { return NewEvent(EventPeripheralDetach, string(side)) }

// TaskComplete carries the result of a main-thread task back to the script.
func TaskComplete(id int, ok bool, results ...any) Event {
	args := make([]any, 0, len(results)+2)
	args = append(args, id, ok)
	args = append(args, results...)
	return Event{Name: EventTaskComplete, Args: args}
}

// FileChanged reports that a watched script file changed on disk.
func FileChanged(path string) Event { return NewEvent(EventFileChanged, path) }
