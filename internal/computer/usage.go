package computer

import (
	"sync"
	"time"

	"github.com/me/computerd/pkg/model"
)

// usage accumulates execution statistics for one computer across runs.
// Invocations are recorded by the worker goroutine and work items by the
// host tick, so it is guarded by a mutex.
type usage struct {
	mu            sync.Mutex
	tasks         uint64
	total         time.Duration
	max           time.Duration
	workItems     uint64
	workTime      time.Duration
	peripheralOps uint64
}

func (u *usage) invocation(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tasks++
	u.total += d
	u.max = max(u.max, d)
}

func (u *usage) work(items int, d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.workItems += uint64(items)
	u.workTime += d
}

func (u *usage) peripheralCall() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.peripheralOps++
}

func (u *usage) snapshot() model.ComputerUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := model.ComputerUsage{
		Tasks:         u.tasks,
		TotalMs:       ms(u.total),
		MaxMs:         ms(u.max),
		WorkItems:     u.workItems,
		WorkTimeMs:    ms(u.workTime),
		PeripheralOps: u.peripheralOps,
	}
	if u.tasks > 0 {
		out.AverageMs = ms(u.total / time.Duration(u.tasks))
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
