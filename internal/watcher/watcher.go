// Package watcher reboots computers when their program changes on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/pkg/model"
)

// DefaultDebounce is the quiet period before a changed file is acted on.
const DefaultDebounce = 500 * time.Millisecond

// Host runs changes on the tick goroutine.
type Host interface {
	Call(ctx context.Context, fn func() error) error
	Manager() *manager.Manager
}

// Watcher watches a script directory. A running computer whose program file
// changed is rebooted; every other running computer receives a file_changed
// event naming the file.
type Watcher struct {
	loader   engine.DirLoader
	debounce time.Duration
	host     Host
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher for dir. A debounce of zero uses DefaultDebounce.
func New(dir string, debounce time.Duration, host Host, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   engine.DirLoader{Dir: dir},
		debounce: debounce,
		host:     host,
		logger:   logging.Component(logger, "watcher"),
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. It returns an error only when the
// directory cannot be watched.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.loader.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.loader.Dir, err)
	}
	w.logger.Info("watching scripts", "dir", w.loader.Dir, "debounce", w.debounce)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if _, ok := engine.ComputerIDFromPath(event.Name); !ok {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := w.Reload(ctx, path); err != nil {
			w.logger.Error("reload after script change", "path", path, "error", err)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// Reload applies a change to path. A change to startup.js affects every
// computer without a program of its own.
func (w *Watcher) Reload(ctx context.Context, path string) error {
	target, ok := engine.ComputerIDFromPath(path)
	if !ok {
		return nil
	}
	startup := filepath.Join(w.loader.Dir, engine.DefaultStartup)
	name := filepath.Base(path)

	return w.host.Call(ctx, func() error {
		m := w.host.Manager()
		var rebooted, notified int
		for _, info := range m.List() {
			if !info.On {
				continue
			}
			affected := info.ID == target
			if target == -1 {
				affected = w.loader.Path(info.ID) == startup
			}
			if !affected {
				if err := m.DispatchEvent(info.ID, model.FileChanged(name)); err == nil {
					notified++
				}
				continue
			}
			if err := m.Reboot(info.ID); err != nil {
				w.logger.Error("reboot after script change", "computer_id", info.ID, "error", err)
				continue
			}
			rebooted++
		}
		w.logger.Info("script changed", "file", name, "rebooted", rebooted, "notified", notified)
		return nil
	})
}
