package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/me/computerd/internal/config"
	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/internal/scheduler"
	"github.com/me/computerd/internal/server"
	"github.com/me/computerd/pkg/model"
)

// startTestServer starts a server over a mock engine and returns its URL.
func startTestServer(t *testing.T) (string, *engine.MockEngine) {
	t.Helper()
	logger := logging.Discard()

	eng := engine.NewMockEngine(nil)
	mcfg := manager.DefaultConfig()
	mcfg.Worker.PollInterval = 5 * time.Millisecond
	mcfg.Worker.ShutdownGrace = 500 * time.Millisecond
	mgr := manager.New(eng, engine.StaticLoader{Source: "test"}, mcfg, logger)

	scfg := scheduler.DefaultConfig()
	scfg.TickInterval = 2 * time.Millisecond
	scfg.AutosaveTicks = 0
	loop := scheduler.NewLoop(mgr, nil, scfg, logger)
	go loop.Start(context.Background())
	t.Cleanup(func() { loop.Stop() })

	srv := server.New(config.DefaultConfig().Server, loop, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, eng
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	// Never read the real ~/.computerd config in tests.
	args = append([]string{"--config", filepath.Join(t.TempDir(), "computerd.yaml"), "--log-level", "error"}, args...)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\noutput: %s", args, err, out)
	}
	return out
}

func TestCreateListStatus(t *testing.T) {
	url, _ := startTestServer(t)

	out := mustRun(t, "--server", url, "create", "--id", "5", "--label", "door")
	if !strings.Contains(out, "Computer 5 (door): STOPPED") {
		t.Errorf("create output = %q", out)
	}

	out = mustRun(t, "--server", url, "list")
	if !strings.Contains(out, "door") || !strings.Contains(out, "STOPPED") {
		t.Errorf("list output = %q", out)
	}

	out = mustRun(t, "--server", url, "status", "5")
	for _, want := range []string{"Computer: 5", "Label:    door", "State:    STOPPED", "Queue:    0 queued, 0 dropped"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestListEmpty(t *testing.T) {
	url, _ := startTestServer(t)
	out := mustRun(t, "--server", url, "list")
	if !strings.Contains(out, "No computers found.") {
		t.Errorf("list output = %q", out)
	}
}

func TestPowerAndQueue(t *testing.T) {
	url, eng := startTestServer(t)
	mustRun(t, "--server", url, "create", "--id", "2")

	out := mustRun(t, "--server", url, "on", "2")
	if !strings.Contains(out, "Computer 2:") {
		t.Errorf("on output = %q", out)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(mustRun(t, "--server", url, "status", "2"), "RUNNING") {
		if time.Now().After(deadline) {
			t.Fatal("computer never reached RUNNING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	out = mustRun(t, "--server", url, "queue", "2", "key", "28", "false")
	if !strings.Contains(out, "Queued key on computer 2") {
		t.Errorf("queue output = %q", out)
	}
	for eng.Last() == nil || len(eng.Last().Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ev := eng.Last().Events()[0]
	if ev.Name != "key" || !reflect.DeepEqual(ev.Args, []any{float64(28), false}) {
		t.Errorf("event = %+v", ev)
	}

	out = mustRun(t, "--server", url, "off", "--force", "2")
	if !strings.Contains(out, "Computer 2: STOPPED") {
		t.Errorf("off output = %q", out)
	}

	mustRun(t, "--server", url, "rm", "2")
	if _, err := runCLI(t, "--server", url, "status", "2"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("status after rm err = %v", err)
	}
}

func waitRunning(t *testing.T, url string, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(mustRun(t, "--server", url, "status", id), "RUNNING") {
		if time.Now().After(deadline) {
			t.Fatalf("computer %s never reached RUNNING", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInputCommands(t *testing.T) {
	url, eng := startTestServer(t)
	mustRun(t, "--server", url, "create", "--id", "4", "--on")
	waitRunning(t, url, "4")

	mustRun(t, "--server", url, "key", "4", "28")
	mustRun(t, "--server", url, "key", "--up", "4", "28")
	mustRun(t, "--server", url, "type", "4", "hi")
	mustRun(t, "--server", url, "paste", "4", "hello", "world")
	mustRun(t, "--server", url, "mouse", "4", "click", "1", "3", "5")
	if _, err := runCLI(t, "--server", url, "mouse", "4", "wiggle", "1", "3", "5"); err == nil {
		t.Error("expected error for unknown mouse action")
	}
	if _, err := runCLI(t, "--server", url, "key", "4", "enter"); err == nil {
		t.Error("expected error for non-numeric key code")
	}

	want := []model.Event{
		model.NewEvent(model.EventKey, float64(28), false),
		model.NewEvent(model.EventKeyUp, float64(28)),
		model.NewEvent(model.EventChar, "h"),
		model.NewEvent(model.EventChar, "i"),
		model.NewEvent(model.EventPaste, "hello world"),
		model.NewEvent(model.EventMouseClick, float64(1), float64(3), float64(5)),
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(eng.Last().Events()) < len(want) {
		if time.Now().After(deadline) {
			t.Fatalf("events = %+v", eng.Last().Events())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := eng.Last().Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}

	out := mustRun(t, "--server", url, "status", "4")
	if !strings.Contains(out, "capacity 256") || !strings.Contains(out, "Usage:") {
		t.Errorf("status output = %q", out)
	}
	if out := mustRun(t, "--server", url, "keepalive", "4"); !strings.Contains(out, "Computer 4: RUNNING") {
		t.Errorf("keepalive output = %q", out)
	}
}

func TestHostStateCommands(t *testing.T) {
	url, _ := startTestServer(t)
	mustRun(t, "--server", url, "create", "--id", "3")

	if out := mustRun(t, "--server", url, "label", "3", "lamp"); !strings.Contains(out, "Computer 3 (lamp)") {
		t.Errorf("label output = %q", out)
	}
	mustRun(t, "--server", url, "redstone", "3", "back", "7")
	if _, err := runCLI(t, "--server", url, "redstone", "3", "back", "bright"); err == nil {
		t.Error("expected error for non-numeric level")
	}
	if _, err := runCLI(t, "--server", url, "redstone", "3", "up", "7"); err == nil {
		t.Error("expected error for bad side")
	}

	mustRun(t, "--server", url, "attach", "3", "left", "memory")
	out := mustRun(t, "--server", url, "status", "3")
	if !strings.Contains(out, "- left: memory") {
		t.Errorf("status output = %q", out)
	}
	mustRun(t, "--server", url, "detach", "3", "left")
	out = mustRun(t, "--server", url, "status", "3")
	if strings.Contains(out, "Peripherals:") {
		t.Errorf("peripheral still listed:\n%s", out)
	}
}

func TestUnknownComputer(t *testing.T) {
	url, _ := startTestServer(t)
	_, err := runCLI(t, "--server", url, "on", "99")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestParseEventArgs(t *testing.T) {
	tests := []struct {
		in   []string
		want []any
	}{
		{nil, []any{}},
		{[]string{"28", "false"}, []any{float64(28), false}},
		{[]string{"hello"}, []any{"hello"}},
		{[]string{`"quoted"`, `{"a":1}`}, []any{"quoted", map[string]any{"a": float64(1)}}},
	}
	for _, tt := range tests {
		if got := parseEventArgs(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseEventArgs(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.js")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCommand(t *testing.T) {
	path := writeProgram(t, `print("hello from " + os.getComputerID());`)
	out := mustRun(t, "run", "--id", "7", "--timeout", "10s", path)
	if !strings.Contains(out, "hello from 7") {
		t.Errorf("run output = %q", out)
	}
}

func TestRunCommand_Events(t *testing.T) {
	path := writeProgram(t, `
os.on("greet", function(name) {
	print("hi " + name);
	os.shutdown();
});`)
	out := mustRun(t, "run", "--timeout", "10s", "--event", "greet bob", path)
	if !strings.Contains(out, "hi bob") {
		t.Errorf("run output = %q", out)
	}
}

func TestRunCommand_Crash(t *testing.T) {
	path := writeProgram(t, `throw new Error("boom");`)
	_, err := runCLI(t, "run", "--timeout", "10s", path)
	if err == nil || !strings.Contains(err.Error(), "crashed") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want crash mentioning boom", err)
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	path := writeProgram(t, `os.on("key", function() {});`)
	start := time.Now()
	if _, err := runCLI(t, "run", "--timeout", "200ms", path); err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("run took %s", time.Since(start))
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")

	out := mustRun(t, "config", "init", "--config", path)
	if !strings.Contains(out, "Wrote") {
		t.Errorf("init output = %q", out)
	}
	if _, err := runCLI(t, "config", "init", "--config", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second init err = %v", err)
	}
	mustRun(t, "config", "init", "--force", "--config", path)

	out = mustRun(t, "config", "show", "--config", path)
	if !strings.Contains(out, "soft_timeout_ms = 7000") {
		t.Errorf("show output = %q", out)
	}
}
