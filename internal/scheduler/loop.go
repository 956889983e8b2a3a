package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/internal/metrics"
	"github.com/me/computerd/internal/store"
	"github.com/me/computerd/pkg/model"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("scheduler stopped")

// Config holds scheduler configuration.
type Config struct {
	TickInterval time.Duration
	// AutosaveTicks is the number of ticks between autosaves; 0 disables
	// periodic saves. Records are always saved on shutdown.
	AutosaveTicks int
	// SaveTimeout bounds each store write.
	SaveTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:  50 * time.Millisecond,
		AutosaveTicks: 1200,
		SaveTimeout:   5 * time.Second,
	}
}

type call struct {
	fn   func() error
	done chan error
}

// Loop implements the Scheduler interface with a fixed-rate host tick.
// The goroutine running Start is the host goroutine: it is the only one
// that touches the manager's lifecycle methods.
type Loop struct {
	mgr    *manager.Manager
	store  store.Store
	config Config
	logger *slog.Logger

	calls    chan call
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once

	ticks uint64
	last  manager.TickStats
}

// NewLoop creates a new scheduler loop. st may be nil to run without persistence.
func NewLoop(mgr *manager.Manager, st store.Store, cfg Config, logger *slog.Logger) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultConfig().SaveTimeout
	}
	return &Loop{
		mgr:    mgr,
		store:  st,
		config: cfg,
		logger: logging.Component(logger, "scheduler"),
		calls:  make(chan call, 256),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Manager returns the manager driven by the loop.
func (l *Loop) Manager() *manager.Manager { return l.mgr }

// Restore loads persisted records into the manager. Call it before Start.
func (l *Loop) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.LoadComputers(ctx)
	if err != nil {
		return fmt.Errorf("load computers: %w", err)
	}
	l.logger.Info("restoring computers", "count", len(recs))
	return l.mgr.Restore(recs)
}

// Start begins the tick loop. Blocks until ctx is cancelled or Stop is called.
// On exit every computer is shut down and the records are saved.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "tick_interval", l.config.TickInterval, "autosave_ticks", l.config.AutosaveTicks)
	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()
	defer l.finish()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			l.shutdown()
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			l.shutdown()
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the final save.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Done is closed once Start has returned.
func (l *Loop) Done() <-chan struct{} { return l.doneCh }

func (l *Loop) finish() {
	l.doneOnce.Do(func() {
		close(l.doneCh)
		// Calls that raced with shutdown.
		for {
			select {
			case c := <-l.calls:
				c.done <- ErrStopped
			default:
				return
			}
		}
	})
}

// Call runs fn on the host goroutine at the start of the next tick.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case l.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		return ErrStopped
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		select {
		case err := <-c.done:
			return err
		default:
			return ErrStopped
		}
	}
}

func (l *Loop) runCalls() {
	for {
		select {
		case c := <-l.calls:
			c.done <- l.safeCall(c.fn)
		default:
			return
		}
	}
}

func (l *Loop) safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("host call panicked", "panic", p)
			err = fmt.Errorf("host call panicked: %v", p)
		}
	}()
	return fn()
}

// Tick runs one host tick: queued calls, then every computer, then autosave.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()
	l.runCalls()
	l.last = l.mgr.TickAll()
	l.ticks++

	elapsed := time.Since(start)
	metrics.TickDuration.Observe(elapsed.Seconds())
	if elapsed > l.config.TickInterval {
		metrics.TickOverruns.Inc()
		l.logger.Debug("tick overran", "elapsed", elapsed, "interval", l.config.TickInterval,
			"computers", l.last.Computers, "work_items", l.last.WorkItems)
	}

	if l.config.AutosaveTicks > 0 && l.ticks%uint64(l.config.AutosaveTicks) == 0 {
		if err := l.Save(ctx); err != nil {
			return fmt.Errorf("autosave: %w", err)
		}
	}
	return nil
}

// Ticks returns the number of completed ticks. Host goroutine only.
func (l *Loop) Ticks() uint64 { return l.ticks }

// LastStats returns the stats of the most recent tick. Host goroutine only.
func (l *Loop) LastStats() manager.TickStats { return l.last }

// Save writes every computer record to the store. Host goroutine only;
// other goroutines go through Call.
func (l *Loop) Save(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	return l.save(ctx, l.mgr.Records())
}

func (l *Loop) save(ctx context.Context, recs []model.ComputerRecord) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.SaveTimeout)
	defer cancel()
	if err := l.store.SaveComputers(ctx, recs); err != nil {
		metrics.Autosaves.WithLabelValues("error").Inc()
		return err
	}
	metrics.Autosaves.WithLabelValues("ok").Inc()
	l.logger.Debug("saved computers", "count", len(recs))
	return nil
}

// shutdown stops every computer and saves the result. A computer that was
// on when the host stopped is saved as on so Restore brings it back.
func (l *Loop) shutdown() {
	l.runCalls()

	wasOn := make(map[int]bool)
	for _, rec := range l.mgr.Records() {
		wasOn[rec.ID] = rec.On
	}
	l.mgr.ShutdownAll()

	if l.store == nil {
		return
	}
	recs := l.mgr.Records()
	for i := range recs {
		recs[i].On = wasOn[recs[i].ID]
	}
	if err := l.save(context.Background(), recs); err != nil {
		l.logger.Error("final save failed", "error", err)
		return
	}
	l.logger.Info("saved computers", "count", len(recs))
}
