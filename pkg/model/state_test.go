package model

import "testing"

func TestComputerState_IsOn(t *testing.T) {
	tests := []struct {
		state ComputerState
		on    bool
	}{
		{ComputerStateStopped, false},
		{ComputerStateStarting, true},
		{ComputerStateRunning, true},
		{ComputerStateStopping, false},
		{ComputerStateCrashed, false},
	}
	for _, tt := range tests {
		if got := tt.state.IsOn(); got != tt.on {
			t.Errorf("ComputerState(%q).IsOn() = %v, want %v", tt.state, got, tt.on)
		}
	}
}

func TestComputerState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  ComputerState
		to    ComputerState
		valid bool
	}{
		// Valid transitions
		{ComputerStateStopped, ComputerStateStarting, true},
		{ComputerStateStarting, ComputerStateRunning, true},
		{ComputerStateStarting, ComputerStateStopping, true},
		{ComputerStateStarting, ComputerStateCrashed, true},
		{ComputerStateRunning, ComputerStateStopping, true},
		{ComputerStateRunning, ComputerStateCrashed, true},
		{ComputerStateStopping, ComputerStateStopped, true},
		{ComputerStateCrashed, ComputerStateStopped, true},

		// Nothing skips STOPPING/CRASHED on the way to STOPPED.
		{ComputerStateRunning, ComputerStateStopped, false},
		{ComputerStateStarting, ComputerStateStopped, false},
		{ComputerStateStopped, ComputerStateRunning, false},
		{ComputerStateCrashed, ComputerStateStarting, false},
		{ComputerStateStopping, ComputerStateRunning, false},
		{ComputerStateStopped, ComputerStateCrashed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("ComputerState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestParseSide(t *testing.T) {
	for i, side := range Sides {
		got, ok := ParseSide(string(side))
		if !ok || got != side {
			t.Errorf("ParseSide(%q) = %q, %v", side, got, ok)
		}
		if side.Index() != i {
			t.Errorf("%q.Index() = %d, want %d", side, side.Index(), i)
		}
	}
	if _, ok := ParseSide("up"); ok {
		t.Error("ParseSide(\"up\") should fail")
	}
}
