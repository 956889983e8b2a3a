package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTracker_IdleIsOK(t *testing.T) {
	clock := newFakeClock()
	tr := New(50*time.Millisecond, 200*time.Millisecond, WithClock(clock.Now))

	clock.Advance(time.Hour)
	r := tr.Tick()
	assert.Equal(t, StatusOK, r.Status)
	assert.False(t, r.Running)
}

func TestTracker_Thresholds(t *testing.T) {
	clock := newFakeClock()
	tr := New(50*time.Millisecond, 200*time.Millisecond, WithClock(clock.Now))

	tr.StartInvocation()
	assert.Equal(t, StatusOK, tr.Tick().Status)

	clock.Advance(60 * time.Millisecond)
	r := tr.Tick()
	assert.Equal(t, StatusSoftLimit, r.Status)
	assert.Equal(t, 60*time.Millisecond, r.SinceYield)

	clock.Advance(140 * time.Millisecond)
	assert.Equal(t, StatusHardLimit, tr.Tick().Status)
}

func TestTracker_YieldResetsSinceYieldOnly(t *testing.T) {
	clock := newFakeClock()
	tr := New(50*time.Millisecond, 200*time.Millisecond, WithClock(clock.Now))

	tr.StartInvocation()
	for i := 0; i < 10; i++ {
		clock.Advance(40 * time.Millisecond)
		tr.RecordYield()
	}

	r := tr.Tick()
	assert.Equal(t, StatusOK, r.Status, "a script that yields is never penalised")
	assert.Equal(t, time.Duration(0), r.SinceYield)
	assert.Equal(t, 400*time.Millisecond, r.Total)
}

func TestTracker_StatusIsLatched(t *testing.T) {
	clock := newFakeClock()
	tr := New(50*time.Millisecond, 200*time.Millisecond, WithClock(clock.Now))

	tr.StartInvocation()
	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, StatusHardLimit, tr.Tick().Status)

	// Even if the clock were to go backwards the reading stays at the maximum.
	clock.Advance(-240 * time.Millisecond)
	assert.Equal(t, StatusHardLimit, tr.Tick().Status)
}

func TestTracker_InvocationIDChanges(t *testing.T) {
	clock := newFakeClock()
	tr := New(time.Second, 2*time.Second, WithClock(clock.Now))

	tr.StartInvocation()
	first := tr.Tick().Invocation
	tr.EndInvocation()
	tr.StartInvocation()
	second := tr.Tick().Invocation

	assert.NotEqual(t, first, second)
}

func TestTracker_HardBelowSoftIsRaised(t *testing.T) {
	tr := New(time.Second, time.Millisecond)
	soft, hard := tr.Limits()
	assert.Equal(t, soft, hard)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.String())
	assert.Equal(t, "SOFT_LIMIT", StatusSoftLimit.String())
	assert.Equal(t, "HARD_LIMIT", StatusHardLimit.String())
	assert.Equal(t, "UNKNOWN", Status(9).String())
}
