// Package metrics provides Prometheus metrics for computerd: computer
// lifecycle, event traffic, watchdog activity and host tick pacing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "computerd"

// ─── Computers ──────────────────────────────────────────────────────────────

// Computers tracks registered computers by lifecycle state.
var Computers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "computers",
	Help:      "Registered computers by lifecycle state.",
}, []string{"state"})

// PendingTurnOn tracks computers waiting for a free worker slot.
var PendingTurnOn = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "pending_turn_on",
	Help:      "Computers waiting for a worker slot.",
})

// Boots counts worker starts.
var Boots = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "boots_total",
	Help:      "Total computer boots.",
})

// Crashes counts computers entering CRASHED, by crash code.
var Crashes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "crashes_total",
	Help:      "Total computer crashes.",
}, []string{"code"})

// ─── Events ─────────────────────────────────────────────────────────────────

// EventsQueued counts events accepted into computer queues.
var EventsQueued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "events_queued_total",
	Help:      "Total events queued.",
})

// EventsDropped counts events evicted because a queue was full.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "events_dropped_total",
	Help:      "Total events dropped by full queues.",
})

// Invocations counts script resumes by result kind.
var Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "invocations_total",
	Help:      "Total script invocations.",
}, []string{"result"})

// InvocationDuration tracks how long a single resume ran.
var InvocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "invocation_duration_seconds",
	Help:      "Duration of one script invocation.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
})

// ─── Watchdog ───────────────────────────────────────────────────────────────

// SoftTimeouts counts cooperative cancel requests.
var SoftTimeouts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "soft_timeouts_total",
	Help:      "Total soft watchdog limits reached.",
})

// HardTimeouts counts forced kills by the watchdog.
var HardTimeouts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "hard_timeouts_total",
	Help:      "Total hard watchdog limits reached.",
})

// ShutdownTimeouts counts workers force-killed after the grace period.
var ShutdownTimeouts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "shutdown_timeouts_total",
	Help:      "Total workers killed after the shutdown grace period.",
})

// ─── Host tick ──────────────────────────────────────────────────────────────

// WorkItems counts main-thread work items applied on the host tick.
var WorkItems = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "work_items_total",
	Help:      "Total main-thread work items applied.",
})

// WorkItemsDiscarded counts work items abandoned by forced kills.
var WorkItemsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "work_items_discarded_total",
	Help:      "Total main-thread work items discarded.",
})

// TickDuration tracks host tick duration.
var TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "tick_duration_seconds",
	Help:      "Host tick duration in seconds.",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
})

// TickOverruns counts ticks that took longer than the tick interval.
var TickOverruns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tick_overruns_total",
	Help:      "Total host ticks that exceeded the tick interval.",
})

// Autosaves counts persisted snapshots by outcome.
var Autosaves = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "autosaves_total",
	Help:      "Total autosaves.",
}, []string{"outcome"})
