package model

import "time"

// ComputerRecord is the minimal persisted state of a computer.
// State is produced and consumed by the script engine; the scheduler never interprets it.
type ComputerRecord struct {
	ID        int       `json:"id"`
	Label     string    `json:"label,omitempty"`
	On        bool      `json:"on"`
	State     []byte    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComputerInfo is a point-in-time view of a computer, published once per host tick.
type ComputerInfo struct {
	ID         int             `json:"id"`
	InstanceID string          `json:"instance_id"`
	Label      string          `json:"label,omitempty"`
	State      ComputerState   `json:"state"`
	On         bool            `json:"on"`
	Crash      *CrashReason    `json:"crash,omitempty"`
	QueueLen   int             `json:"queue_len"`
	Dropped    uint64          `json:"dropped_events"`
	PendingOn  bool            `json:"pending_on,omitempty"`
	Redstone   map[Side]int    `json:"redstone_output,omitempty"`
	Terminal   []string        `json:"terminal,omitempty"`
	Peripheral map[Side]string `json:"peripherals,omitempty"`
	QueueCap   int             `json:"queue_capacity,omitempty"`
	Usage      ComputerUsage   `json:"usage"`
}

// ComputerUsage is the execution time a computer has used since it was
// created. Tasks are engine invocations; work items are the host-side
// mutations applied for it.
type ComputerUsage struct {
	Tasks         uint64  `json:"tasks"`
	TotalMs       float64 `json:"total_ms"`
	AverageMs     float64 `json:"average_ms"`
	MaxMs         float64 `json:"max_ms"`
	WorkItems     uint64  `json:"work_items"`
	WorkTimeMs    float64 `json:"work_time_ms"`
	PeripheralOps uint64  `json:"peripheral_ops"`
}
