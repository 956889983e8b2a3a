package model

import (
	"errors"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Computer '7' not found"}
	want := "NOT_FOUND: Computer '7' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Computer", 12)
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "Computer '12' not found" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestCrashReason_Unwrap(t *testing.T) {
	tests := []struct {
		code CrashCode
		want error
	}{
		{CrashHardTimeout, ErrHardTimeout},
		{CrashSoftTimeout, ErrSoftTimeout},
		{CrashScriptError, ErrScriptEngine},
	}
	for _, tt := range tests {
		var err error = &CrashReason{Code: tt.code, Message: "boom"}
		if !errors.Is(err, tt.want) {
			t.Errorf("errors.Is(%s, %v) = false", tt.code, tt.want)
		}
	}
}

func TestCrashReason_Error(t *testing.T) {
	r := &CrashReason{Code: CrashScriptError, Message: "startup.js:3: nil"}
	if got := r.Error(); got != "SCRIPT_ERROR: startup.js:3: nil" {
		t.Errorf("Error() = %q", got)
	}
	r = &CrashReason{Code: CrashHardTimeout}
	if got := r.Error(); got != "HARD_TIMEOUT" {
		t.Errorf("Error() = %q", got)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{ID: 3, From: ComputerStateRunning, To: ComputerStateStopped}
	want := "invalid computer state transition: RUNNING → STOPPED (computer 3)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestEvent_Constructors(t *testing.T) {
	if !Terminate().IsTerminate() {
		t.Error("Terminate() should be a terminate event")
	}
	if Timer(4).IsTerminate() {
		t.Error("Timer() should not be a terminate event")
	}

	args := []any{1, 2}
	ev := NewEvent("custom", args...)
	args[0] = 99
	if ev.Args[0] != 1 {
		t.Errorf("NewEvent should copy args, got %v", ev.Args)
	}

	tc := TaskComplete(5, true, "ok")
	if tc.Name != EventTaskComplete || len(tc.Args) != 3 || tc.Args[0] != 5 || tc.Args[1] != true {
		t.Errorf("TaskComplete() = %+v", tc)
	}
}
