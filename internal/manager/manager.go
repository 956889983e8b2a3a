// Package manager is the registry of computers and the only entry point
// external callers use to drive them.
//
// Lifecycle methods (Create, Remove, TurnOn, TurnOff, TickAll, ShutdownAll
// and the host-state setters) must be called from the host tick goroutine.
// DispatchEvent, Info and List are safe from any goroutine: events go
// straight to the worker's queue and reads come from the snapshot published
// at the end of each tick.
package manager

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/me/computerd/internal/computer"
	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/mainthread"
	"github.com/me/computerd/internal/metrics"
	"github.com/me/computerd/pkg/model"
)

// Config holds manager settings.
type Config struct {
	Worker computer.Options
	// MaxConcurrentWorkers caps computers with a live worker goroutine.
	MaxConcurrentWorkers int
	// MaxPending caps computers waiting for a worker slot.
	MaxPending int
	// KeepAliveTicks unloads a computer that has not been pinged with
	// KeepAlive for this many ticks. Zero disables the check.
	KeepAliveTicks int
}

// DefaultConfig returns default manager settings.
func DefaultConfig() Config {
	return Config{
		Worker:               computer.DefaultOptions(),
		MaxConcurrentWorkers: 128,
		MaxPending:           1024,
	}
}

// TickStats summarizes one TickAll.
type TickStats struct {
	Computers int
	Running   int
	Crashed   int
	Pending   int
	Started   int
	Unloaded  int
	WorkItems int
	Duration  time.Duration
}

// Manager owns every computer's worker.
type Manager struct {
	engine engine.Engine
	loader engine.Loader
	work   *mainthread.Queue
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	workers map[int]*computer.Worker

	// Host side.
	nextID  int
	pending []int

	snapMu   sync.RWMutex
	snapshot map[int]model.ComputerInfo
}

// New creates an empty manager.
func New(eng engine.Engine, loader engine.Loader, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrentWorkers <= 0 {
		cfg.MaxConcurrentWorkers = DefaultConfig().MaxConcurrentWorkers
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	cfg.Worker = cfg.Worker.WithDefaults()
	return &Manager{
		engine:   eng,
		loader:   loader,
		work:     mainthread.New(),
		cfg:      cfg,
		logger:   logging.Component(logger, "manager"),
		workers:  make(map[int]*computer.Worker),
		nextID:   1,
		snapshot: make(map[int]model.ComputerInfo),
	}
}

// Lookup returns the worker for id.
func (m *Manager) Lookup(id int) (*computer.Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	return w, ok
}

func (m *Manager) lookup(id int) (*computer.Worker, error) {
	w, ok := m.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("computer %d: %w", id, model.ErrUnknownComputer)
	}
	return w, nil
}

// Create registers a computer from its persisted record and returns its id.
// An ID of 0 allocates the next free id. A record with On set is turned on.
func (m *Manager) Create(rec model.ComputerRecord) (int, error) {
	id := rec.ID
	if id < 0 {
		return 0, fmt.Errorf("invalid computer id %d", id)
	}

	m.mu.Lock()
	if id == 0 {
		for {
			if _, taken := m.workers[m.nextID]; !taken {
				break
			}
			m.nextID++
		}
		id = m.nextID
	}
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		return 0, fmt.Errorf("computer %d: %w", id, model.ErrDuplicateComputer)
	}
	w := computer.New(id, m.engine, m.loader, m.work, m.cfg.Worker, m.logger)
	w.SetLabel(rec.Label)
	w.SetSnapshot(rec.State)
	m.workers[id] = w
	if id >= m.nextID {
		m.nextID = id + 1
	}
	m.mu.Unlock()

	m.logger.Info("computer created", "computer_id", id, "instance_id", w.InstanceID(), "label", rec.Label)
	if rec.On {
		if err := m.TurnOn(id); err != nil {
			m.publish(w)
			return id, err
		}
	}
	m.publish(w)
	return id, nil
}

// Remove force-stops a computer and releases it.
func (m *Manager) Remove(id int) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.dropPending(id)
	w.TurnOff(false)
	if n := m.work.Remove(id); n > 0 {
		metrics.WorkItemsDiscarded.Add(float64(n))
	}

	m.mu.Lock()
	delete(m.workers, id)
	m.mu.Unlock()

	m.snapMu.Lock()
	delete(m.snapshot, id)
	m.snapMu.Unlock()

	m.logger.Info("computer removed", "computer_id", id)
	return nil
}

// DispatchEvent queues ev on computer id. Safe for concurrent use. A full
// queue drops its oldest event and is not an error.
func (m *Manager) DispatchEvent(id int, ev model.Event) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	w.QueueEvent(ev)
	return nil
}

// active counts computers with a live worker.
func (m *Manager) active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, w := range m.workers {
		if w.State().HasWorker() {
			n++
		}
	}
	return n
}

// TurnOn boots computer id, or queues it when every worker slot is taken.
// It returns model.ErrWorkerCapacity only when the waiting list is full too.
func (m *Manager) TurnOn(id int) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	if w.State().IsOn() || m.isPending(id) {
		return nil
	}
	if w.State() == model.ComputerStateStopping {
		// The worker keeps its slot and boots once the stop completes.
		err = w.TurnOn()
		m.publish(w)
		return err
	}
	if m.active() >= m.cfg.MaxConcurrentWorkers {
		if len(m.pending) >= m.cfg.MaxPending {
			return fmt.Errorf("computer %d: %w", id, model.ErrWorkerCapacity)
		}
		m.pending = append(m.pending, id)
		metrics.PendingTurnOn.Set(float64(len(m.pending)))
		m.logger.Debug("turn on deferred until a worker slot frees up", "computer_id", id, "pending", len(m.pending))
		m.publish(w)
		return nil
	}
	err = w.TurnOn()
	m.publish(w)
	return err
}

func (m *Manager) isPending(id int) bool {
	for _, p := range m.pending {
		if p == id {
			return true
		}
	}
	return false
}

func (m *Manager) dropPending(id int) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			metrics.PendingTurnOn.Set(float64(len(m.pending)))
			return
		}
	}
}

// TurnOff stops computer id. A graceful stop returns at once and completes
// on a later tick.
func (m *Manager) TurnOff(id int, graceful bool) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.dropPending(id)
	w.TurnOff(graceful)
	m.publish(w)
	return nil
}

// Reboot stops computer id gracefully and starts it again once the stop
// completes. A computer without a worker goes through TurnOn.
func (m *Manager) Reboot(id int) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !w.State().HasWorker() {
		return m.TurnOn(id)
	}
	err = w.Reboot()
	m.publish(w)
	return err
}

// KeepAlive marks computer id as still wanted by its owner.
func (m *Manager) KeepAlive(id int) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	w.KeepAlive()
	return nil
}

// SetLabel changes a computer's label.
func (m *Manager) SetLabel(id int, label string) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	w.SetLabel(label)
	m.publish(w)
	return nil
}

// SetRedstoneInput sets a redstone input level on one side.
func (m *Manager) SetRedstoneInput(id int, side model.Side, level int) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	return w.SetRedstoneInput(side, level)
}

// AttachPeripheral attaches p to one side of computer id.
func (m *Manager) AttachPeripheral(id int, side model.Side, p computer.Peripheral) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := w.AttachPeripheral(side, p); err != nil {
		return err
	}
	m.publish(w)
	return nil
}

// DetachPeripheral removes the peripheral on one side of computer id.
func (m *Manager) DetachPeripheral(id int, side model.Side) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	w.DetachPeripheral(side)
	m.publish(w)
	return nil
}

// sorted returns the workers in id order.
func (m *Manager) sorted() []*computer.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*computer.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// TickAll polls every computer once, starts waiting computers while worker
// slots are free and publishes the info snapshot.
func (m *Manager) TickAll() TickStats {
	start := time.Now()
	workers := m.sorted()

	var stats TickStats
	for _, w := range workers {
		stats.WorkItems += w.Poll()
	}

	if limit := uint64(m.cfg.KeepAliveTicks); limit > 0 {
		kept := workers[:0]
		for _, w := range workers {
			if w.TicksSincePing() <= limit {
				kept = append(kept, w)
				continue
			}
			m.logger.Info("computer timed out; unloading", "computer_id", w.ID(), "ticks_since_ping", w.TicksSincePing())
			if err := m.Remove(w.ID()); err == nil {
				stats.Unloaded++
			}
		}
		workers = kept
	}

	active := 0
	for _, w := range workers {
		if w.State().HasWorker() {
			active++
		}
	}
	for len(m.pending) > 0 && active < m.cfg.MaxConcurrentWorkers {
		id := m.pending[0]
		m.pending = m.pending[1:]
		w, ok := m.Lookup(id)
		if !ok {
			continue
		}
		if err := w.TurnOn(); err != nil {
			m.logger.Error("deferred turn on failed", "computer_id", id, "error", err)
			continue
		}
		active++
		stats.Started++
	}

	byState := make(map[model.ComputerState]int)
	snap := make(map[int]model.ComputerInfo, len(workers))
	pending := make(map[int]bool, len(m.pending))
	for _, id := range m.pending {
		pending[id] = true
	}
	for _, w := range workers {
		info := w.Info()
		info.PendingOn = pending[w.ID()]
		snap[w.ID()] = info
		byState[info.State]++
	}
	m.snapMu.Lock()
	m.snapshot = snap
	m.snapMu.Unlock()

	for _, s := range []model.ComputerState{
		model.ComputerStateStopped, model.ComputerStateStarting, model.ComputerStateRunning,
		model.ComputerStateStopping, model.ComputerStateCrashed,
	} {
		metrics.Computers.WithLabelValues(string(s)).Set(float64(byState[s]))
	}
	metrics.PendingTurnOn.Set(float64(len(m.pending)))

	stats.Computers = len(workers)
	stats.Running = byState[model.ComputerStateRunning]
	stats.Crashed = byState[model.ComputerStateCrashed]
	stats.Pending = len(m.pending)
	stats.Duration = time.Since(start)
	return stats
}

// ShutdownAll stops every computer. Terminate goes to all of them at once,
// they share one grace deadline, and whatever is still running afterwards is
// force-killed. It never blocks for longer than the grace period.
func (m *Manager) ShutdownAll() {
	grace := m.cfg.Worker.ShutdownGrace
	m.pending = nil
	metrics.PendingTurnOn.Set(0)

	var stopping []*computer.Worker
	for _, w := range m.sorted() {
		if w.BeginStop() {
			stopping = append(stopping, w)
		}
	}
	if len(stopping) == 0 {
		return
	}
	m.logger.Info("shutting down computers", "count", len(stopping), "grace", grace)

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	expired := false
	for _, w := range stopping {
		if !expired {
			select {
			case <-w.Done():
			case <-deadline.C:
				expired = true
			}
		}
		if !w.FinishStop() {
			metrics.ShutdownTimeouts.Inc()
			m.logger.Warn("computer did not stop within the grace period; killed",
				"computer_id", w.ID(), "error", model.ErrShutdownTimeout)
		}
		m.publish(w)
	}
}

// Records returns the persisted form of every computer in id order. A
// computer waiting for a worker slot is recorded as on.
func (m *Manager) Records() []model.ComputerRecord {
	workers := m.sorted()
	out := make([]model.ComputerRecord, 0, len(workers))
	for _, w := range workers {
		rec := w.Record()
		if m.isPending(w.ID()) {
			rec.On = true
		}
		out = append(out, rec)
	}
	return out
}

// Restore recreates computers from persisted records. Records that fail are
// logged and skipped; the first error is returned.
func (m *Manager) Restore(recs []model.ComputerRecord) error {
	var first error
	for _, rec := range recs {
		if _, err := m.Create(rec); err != nil {
			m.logger.Error("restore computer", "computer_id", rec.ID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *Manager) publish(w *computer.Worker) {
	info := w.Info()
	info.PendingOn = m.isPending(w.ID())
	m.snapMu.Lock()
	m.snapshot[w.ID()] = info
	m.snapMu.Unlock()
}

// Info returns the last published view of computer id.
func (m *Manager) Info(id int) (model.ComputerInfo, error) {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	info, ok := m.snapshot[id]
	if !ok {
		return model.ComputerInfo{}, fmt.Errorf("computer %d: %w", id, model.ErrUnknownComputer)
	}
	return info, nil
}

// List returns the last published view of every computer in id order.
func (m *Manager) List() []model.ComputerInfo {
	m.snapMu.RLock()
	out := make([]model.ComputerInfo, 0, len(m.snapshot))
	for _, info := range m.snapshot {
		out = append(out, info)
	}
	m.snapMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered computers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// PendingWork returns the number of main-thread work items queued for id.
func (m *Manager) PendingWork(id int) int {
	return m.work.Len(id)
}
