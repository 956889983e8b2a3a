package model

// ComputerState represents the lifecycle state of a computer's worker.
type ComputerState string

const (
	ComputerStateStopped  ComputerState = "STOPPED"
	ComputerStateStarting ComputerState = "STARTING"
	ComputerStateRunning  ComputerState = "RUNNING"
	ComputerStateStopping ComputerState = "STOPPING"
	ComputerStateCrashed  ComputerState = "CRASHED"
)

// String returns the string representation of the computer state.
func (s ComputerState) String() string {
	return string(s)
}

// IsOn returns true if the computer is on from the host's perspective.
// A crashed computer surfaces as off.
func (s ComputerState) IsOn() bool {
	switch s {
	case ComputerStateStarting, ComputerStateRunning:
		return true
	}
	return false
}

// HasWorker returns true if a worker goroutine may still own execution in this state.
func (s ComputerState) HasWorker() bool {
	switch s {
	case ComputerStateStarting, ComputerStateRunning, ComputerStateStopping:
		return true
	}
	return false
}

// ValidComputerTransitions defines the allowed lifecycle transitions.
// Nothing reaches STOPPED without passing through STOPPING or CRASHED.
var ValidComputerTransitions = map[ComputerState][]ComputerState{
	ComputerStateStopped:  {ComputerStateStarting},
	ComputerStateStarting: {ComputerStateRunning, ComputerStateStopping, ComputerStateCrashed},
	ComputerStateRunning:  {ComputerStateStopping, ComputerStateCrashed},
	ComputerStateStopping: {ComputerStateStopped},
	ComputerStateCrashed:  {ComputerStateStopped},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ComputerState) CanTransitionTo(next ComputerState) bool {
	for _, allowed := range ValidComputerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Side identifies one face of a computer for redstone and peripherals.
type Side string

const (
	SideBottom Side = "bottom"
	SideTop    Side = "top"
	SideBack   Side = "back"
	SideFront  Side = "front"
	SideRight  Side = "right"
	SideLeft   Side = "left"
)

// Sides lists every side in index order.
var Sides = []Side{SideBottom, SideTop, SideBack, SideFront, SideRight, SideLeft}

// Index returns the position of s in Sides, or -1 if s is not a side.
func (s Side) Index() int {
	for i, side := range Sides {
		if side == s {
			return i
		}
	}
	return -1
}

// ParseSide validates a side name.
func ParseSide(name string) (Side, bool) {
	s := Side(name)
	return s, s.Index() >= 0
}
