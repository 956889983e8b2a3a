package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/computerd/internal/config"
	"github.com/me/computerd/internal/engine"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
	"github.com/me/computerd/internal/scheduler"
	"github.com/me/computerd/pkg/model"
)

func testServer(t *testing.T) (*Server, *engine.MockEngine) {
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
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Start(ctx)
	t.Cleanup(func() { loop.Stop() })
	t.Cleanup(cancel) // runs first, like t.Context cancellation

	return New(config.DefaultConfig().Server, loop, logger, WithEngineName(eng.Name())), eng
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	return do(t, srv, "GET", path, "", http.StatusOK)
}

func decodeInfo(t *testing.T, env envelope) model.ComputerInfo {
	t.Helper()
	var info model.ComputerInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatalf("decode computer info: %v", err)
	}
	return info
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "computerd API" {
		t.Errorf("name = %q, want computerd API", data.Name)
	}
	if len(data.Endpoints) < 10 {
		t.Errorf("endpoints count = %d, want >= 10", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/v1/computers", `{"label":"a"}`, http.StatusCreated)

	env := doGet(t, srv, "/api/v1/health")
	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Version != Version {
		t.Errorf("health = %+v", data)
	}
	if data.Engine != "mock" {
		t.Errorf("engine = %q, want mock", data.Engine)
	}
	if data.Computers != 1 {
		t.Errorf("computers = %d, want 1", data.Computers)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_fromclient")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req_fromclient" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestCreateAndGetComputer(t *testing.T) {
	srv, _ := testServer(t)

	env := do(t, srv, "POST", "/api/v1/computers", `{"id":12,"label":"door"}`, http.StatusCreated)
	info := decodeInfo(t, env)
	if info.ID != 12 || info.Label != "door" || info.State != model.ComputerStateStopped {
		t.Errorf("created = %+v", info)
	}
	if info.InstanceID == "" {
		t.Error("instance_id is empty")
	}

	info = decodeInfo(t, doGet(t, srv, "/api/v1/computers/12"))
	if info.ID != 12 {
		t.Errorf("get = %+v", info)
	}

	// Allocated id follows the highest taken id.
	info = decodeInfo(t, do(t, srv, "POST", "/api/v1/computers", "", http.StatusCreated))
	if info.ID != 13 {
		t.Errorf("allocated id = %d, want 13", info.ID)
	}

	var list []model.ComputerInfo
	json.Unmarshal(doGet(t, srv, "/api/v1/computers").Data, &list)
	if len(list) != 2 || list[0].ID != 12 || list[1].ID != 13 {
		t.Errorf("list = %+v", list)
	}
}

func TestCreateComputer_Errors(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/v1/computers", `{"id":3}`, http.StatusCreated)

	tests := []struct {
		name   string
		body   string
		status int
		code   model.ErrorCode
	}{
		{"duplicate", `{"id":3}`, http.StatusConflict, model.ErrConflict},
		{"negative id", `{"id":-1}`, http.StatusBadRequest, model.ErrValidation},
		{"bad json", `{"id":`, http.StatusBadRequest, model.ErrValidation},
		{"unknown field", `{"name":"x"}`, http.StatusBadRequest, model.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := do(t, srv, "POST", "/api/v1/computers", tt.body, tt.status)
			if env.Status != "error" || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("envelope = %+v", env)
			}
		})
	}
}

func TestGetComputer_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/computers/404", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
	do(t, srv, "GET", "/api/v1/computers/abc", "", http.StatusBadRequest)
	do(t, srv, "POST", "/api/v1/computers/404/on", "", http.StatusNotFound)
	do(t, srv, "POST", "/api/v1/computers/404/keepalive", "", http.StatusNotFound)
	do(t, srv, "POST", "/api/v1/computers/404/events", `{"name":"x"}`, http.StatusNotFound)
}

func TestComputerLifecycle(t *testing.T) {
	srv, eng := testServer(t)
	do(t, srv, "POST", "/api/v1/computers", `{"id":1}`, http.StatusCreated)

	info := decodeInfo(t, do(t, srv, "POST", "/api/v1/computers/1/on", "", http.StatusOK))
	if !info.On {
		t.Errorf("after on = %+v", info)
	}
	waitFor(t, "computer running", func() bool {
		info := decodeInfo(t, doGet(t, srv, "/api/v1/computers/1"))
		return info.State == model.ComputerStateRunning
	})

	do(t, srv, "POST", "/api/v1/computers/1/events", `{"name":"key","args":[28,false]}`, http.StatusAccepted)
	waitFor(t, "event delivered", func() bool {
		return eng.Last() != nil && len(eng.Last().Events()) == 1
	})
	if ev := eng.Last().Events()[0]; ev.Name != "key" || len(ev.Args) != 2 {
		t.Errorf("event = %+v", ev)
	}

	info = decodeInfo(t, do(t, srv, "PUT", "/api/v1/computers/1/label", `{"label":"renamed"}`, http.StatusOK))
	if info.Label != "renamed" {
		t.Errorf("label = %q", info.Label)
	}

	info = decodeInfo(t, do(t, srv, "POST", "/api/v1/computers/1/reboot", "", http.StatusOK))
	if !info.On {
		t.Errorf("after reboot = %+v", info)
	}
	waitFor(t, "second boot", func() bool { return eng.Boots() == 2 })

	waitFor(t, "running again", func() bool {
		return decodeInfo(t, doGet(t, srv, "/api/v1/computers/1")).State == model.ComputerStateRunning
	})

	do(t, srv, "POST", "/api/v1/computers/1/keepalive", "", http.StatusOK)

	// A graceful off answers before the program has exited.
	info = decodeInfo(t, do(t, srv, "POST", "/api/v1/computers/1/off", "", http.StatusOK))
	if info.On || (info.State != model.ComputerStateStopping && info.State != model.ComputerStateStopped) {
		t.Errorf("after off = %+v", info)
	}
	waitFor(t, "stopped", func() bool {
		return decodeInfo(t, doGet(t, srv, "/api/v1/computers/1")).State == model.ComputerStateStopped
	})

	do(t, srv, "DELETE", "/api/v1/computers/1", "", http.StatusOK)
	do(t, srv, "GET", "/api/v1/computers/1", "", http.StatusNotFound)
}

func TestQueueEvent_Validation(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/v1/computers", `{"id":1}`, http.StatusCreated)

	env := do(t, srv, "POST", "/api/v1/computers/1/events", `{"name":"  "}`, http.StatusBadRequest)
	if env.Error == nil || len(env.Error.Details) != 1 || env.Error.Details[0].Field != "name" {
		t.Errorf("error = %+v", env.Error)
	}
	do(t, srv, "POST", "/api/v1/computers/1/events", `not json`, http.StatusBadRequest)
}

func TestRedstoneAndPeripherals(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/v1/computers", `{"id":1}`, http.StatusCreated)

	do(t, srv, "PUT", "/api/v1/computers/1/redstone", `{"side":"top","level":15}`, http.StatusOK)
	do(t, srv, "PUT", "/api/v1/computers/1/redstone", `{"side":"up","level":1}`, http.StatusBadRequest)
	do(t, srv, "PUT", "/api/v1/computers/1/redstone", `{"side":"top","level":99}`, http.StatusBadRequest)

	info := decodeInfo(t, do(t, srv, "PUT", "/api/v1/computers/1/peripherals/left", `{"type":"memory"}`, http.StatusOK))
	if info.Peripheral[model.SideLeft] != "memory" {
		t.Errorf("peripherals = %+v", info.Peripheral)
	}
	env := do(t, srv, "PUT", "/api/v1/computers/1/peripherals/left", `{"type":"printer"}`, http.StatusBadRequest)
	if env.Error == nil || !strings.Contains(env.Error.Details[0].Message, "memory") {
		t.Errorf("error = %+v", env.Error)
	}
	do(t, srv, "PUT", "/api/v1/computers/1/peripherals/sideways", `{"type":"memory"}`, http.StatusBadRequest)

	info = decodeInfo(t, do(t, srv, "DELETE", "/api/v1/computers/1/peripherals/left", "", http.StatusOK))
	if _, ok := info.Peripheral[model.SideLeft]; ok {
		t.Errorf("peripheral still attached: %+v", info.Peripheral)
	}
}

func TestSaveWithoutStore(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/v1/save", "", http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("computerd_tick_duration_seconds")) {
		t.Error("metrics output missing computerd_tick_duration_seconds")
	}
}
