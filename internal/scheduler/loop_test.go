package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/internal/store"
	"github.com/me/computerd/pkg/model"
)

// testSetup creates an in-memory store and a manager backed by a mock engine,
// and returns a ready-to-use Loop.
func testSetup(t *testing.T, script engine.MockScript, cfg Config) (*Loop, store.Store) {
	t.Helper()
	logger := logging.Discard()

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mcfg := manager.DefaultConfig()
	mcfg.Worker.PollInterval = 5 * time.Millisecond
	mcfg.Worker.ShutdownGrace = 500 * time.Millisecond
	mgr := manager.New(engine.NewMockEngine(script), engine.StaticLoader{Source: "test"}, mcfg, logger)

	return NewLoop(mgr, st, cfg, logger), st
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.AutosaveTicks = 0
	return cfg
}

// startLoop runs l.Start in the background and stops it on cleanup.
func startLoop(t *testing.T, l *Loop) {
	t.Helper()
	go l.Start(context.Background())
	t.Cleanup(func() { l.Stop() })
}

var errNotYet = errors.New("not yet")

// callUntil retries fn on the host goroutine until it stops returning errNotYet.
func callUntil(t *testing.T, l *Loop, what string, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		err := l.Call(context.Background(), fn)
		if err == nil {
			return
		}
		if !errors.Is(err, errNotYet) {
			t.Fatalf("%s: %v", what, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoop_Call(t *testing.T) {
	l, _ := testSetup(t, nil, fastConfig())
	startLoop(t, l)

	var id int
	err := l.Call(context.Background(), func() error {
		var err error
		id, err = l.Manager().Create(model.ComputerRecord{Label: "a", On: true})
		return err
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}

	callUntil(t, l, "computer running", func() error {
		w, ok := l.Manager().Lookup(id)
		if !ok {
			return errors.New("computer vanished")
		}
		if w.State() != model.ComputerStateRunning {
			return errNotYet
		}
		return nil
	})

	want := errors.New("boom")
	if err := l.Call(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Errorf("Call err = %v, want %v", err, want)
	}
}

func TestLoop_CallRecoversPanic(t *testing.T) {
	l, _ := testSetup(t, nil, fastConfig())
	startLoop(t, l)

	err := l.Call(context.Background(), func() error { panic("bad handler") })
	if err == nil || !strings.Contains(err.Error(), "bad handler") {
		t.Fatalf("err = %v, want panic error", err)
	}
	// The loop keeps ticking.
	if err := l.Call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Call after panic: %v", err)
	}
}

func TestLoop_CallContextCancelled(t *testing.T) {
	l, _ := testSetup(t, nil, fastConfig())
	// Not started: nothing will ever run the call.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Call(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestLoop_CallAfterStop(t *testing.T) {
	l, _ := testSetup(t, nil, fastConfig())
	go l.Start(context.Background())
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := l.Call(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
	// Stop is idempotent.
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestLoop_StartReturnsOnContextCancel(t *testing.T) {
	l, _ := testSetup(t, nil, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Start(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestLoop_TickCountsAndStats(t *testing.T) {
	l, _ := testSetup(t, nil, fastConfig())
	t.Cleanup(l.Manager().ShutdownAll)
	l.Manager().Create(model.ComputerRecord{})
	l.Manager().Create(model.ComputerRecord{})

	for i := 0; i < 3; i++ {
		if err := l.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if l.Ticks() != 3 {
		t.Errorf("Ticks = %d, want 3", l.Ticks())
	}
	if l.LastStats().Computers != 2 {
		t.Errorf("Computers = %d, want 2", l.LastStats().Computers)
	}
}

func TestLoop_Autosave(t *testing.T) {
	cfg := fastConfig()
	cfg.AutosaveTicks = 3
	l, st := testSetup(t, nil, cfg)
	t.Cleanup(l.Manager().ShutdownAll)
	ctx := context.Background()

	l.Manager().Create(model.ComputerRecord{Label: "saved"})

	for i := 0; i < 2; i++ {
		if err := l.Tick(ctx); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := st.LoadComputers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("saved before the autosave tick: %+v", recs)
	}

	if err := l.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	recs, err = st.LoadComputers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Label != "saved" {
		t.Errorf("recs = %+v", recs)
	}
}

func TestLoop_ShutdownSavesAndRestores(t *testing.T) {
	script := func(h *engine.MockHandle, ev model.Event) engine.Result {
		if ev.IsTerminate() {
			h.SetState([]byte("saved-on-exit"))
			return engine.Result{Kind: engine.Returned, Reason: engine.ReasonTerminated}
		}
		return engine.Result{Kind: engine.Yielded}
	}
	l, st := testSetup(t, script, fastConfig())
	l.Manager().Create(model.ComputerRecord{ID: 4, Label: "door", On: true})
	l.Manager().Create(model.ComputerRecord{ID: 5, Label: "idle"})

	go l.Start(context.Background())
	callUntil(t, l, "computer 4 running", func() error {
		if w, _ := l.Manager().Lookup(4); w.State() != model.ComputerStateRunning {
			return errNotYet
		}
		return nil
	})
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}

	recs, err := st.LoadComputers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("recs = %+v", recs)
	}
	if !recs[0].On || string(recs[0].State) != "saved-on-exit" {
		t.Errorf("computer 4 = %+v, want on with saved state", recs[0])
	}
	if recs[1].On {
		t.Errorf("computer 5 = %+v, want off", recs[1])
	}

	// A fresh host brings computer 4 back.
	restored, _ := testSetup(t, script, fastConfig())
	restored.store = st
	t.Cleanup(restored.Manager().ShutdownAll)
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Manager().Len() != 2 {
		t.Fatalf("Len = %d, want 2", restored.Manager().Len())
	}
	w, ok := restored.Manager().Lookup(4)
	if !ok || !w.State().IsOn() {
		t.Errorf("computer 4 not turned on after restore")
	}
	if w, _ := restored.Manager().Lookup(5); w.State().IsOn() {
		t.Errorf("computer 5 turned on after restore")
	}
}

func TestLoop_WithoutStore(t *testing.T) {
	l := NewLoop(manager.New(engine.NewMockEngine(nil), engine.StaticLoader{}, manager.DefaultConfig(), logging.Discard()),
		nil, Config{AutosaveTicks: 1}, logging.Discard())
	if err := l.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if err := l.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
}
