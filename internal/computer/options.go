package computer

import (
	"io"
	"time"
)

// Options tunes a worker. Zero fields fall back to DefaultOptions.
type Options struct {
	SoftTimeout   time.Duration
	HardTimeout   time.Duration
	QueueCapacity int
	// MaxWorkPerTick bounds how many main-thread work items one Poll applies.
	MaxWorkPerTick int
	// TickRate is the host tick rate in ticks per second, used to convert
	// timer durations to ticks.
	TickRate int
	// ShutdownGrace is how long a graceful stop waits for the program to
	// exit before killing it. Zero means the default; TurnOff(false) stops
	// without waiting.
	ShutdownGrace time.Duration
	// PollInterval is how long the worker goroutine waits for an event before
	// checking its stop signal again.
	PollInterval  time.Duration
	TerminalLines int
	// Output, when set, receives a copy of everything the program prints.
	Output io.Writer
	// Clock drives the watchdog and crash timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the standard worker tuning.
func DefaultOptions() Options {
	return Options{
		SoftTimeout:    7 * time.Second,
		HardTimeout:    10500 * time.Millisecond,
		QueueCapacity:  256,
		MaxWorkPerTick: 64,
		TickRate:       20,
		ShutdownGrace:  2 * time.Second,
		PollInterval:   50 * time.Millisecond,
		TerminalLines:  64,
		Clock:          time.Now,
	}
}

// WithDefaults returns o with every zero field replaced by its default.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.SoftTimeout <= 0 {
		o.SoftTimeout = def.SoftTimeout
	}
	if o.HardTimeout <= 0 {
		o.HardTimeout = def.HardTimeout
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = def.QueueCapacity
	}
	if o.MaxWorkPerTick <= 0 {
		o.MaxWorkPerTick = def.MaxWorkPerTick
	}
	if o.TickRate <= 0 {
		o.TickRate = def.TickRate
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = def.ShutdownGrace
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.TerminalLines <= 0 {
		o.TerminalLines = def.TerminalLines
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
