package server

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"iara/internal/config"
	"iara/internal/deps"
	"iara/internal/transport"
)

func testConfig(t *testing.T, transportName string) *config.Config {
	t.Helper()
	cfg := config.Default()
	base := t.TempDir()
	cfg.Server.Transport = transportName
	cfg.Backends.WorkDir = filepath.Join(base, "work")
	cfg.Deployment.OutputRoot = filepath.Join(base, "artifacts")
	return &cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := New(context.Background(), cfg, Options{Version: "1.2.3", Statuses: []deps.Status{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewRegistersEveryTool(t *testing.T) {
	app := newApp(t, testConfig(t, config.TransportPipe))
	names := app.Registry.Names()
	if len(names) != 17 {
		t.Fatalf("expected 17 tools, got %d: %v", len(names), names)
	}
	for _, want := range []string{"analyze", "separate", "classify", "plot", "workflow", "status"} {
		if _, err := app.Registry.Resolve(want); err != nil {
			t.Fatalf("tool %q not registered", want)
		}
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestServePipeAnswersAndRecords(t *testing.T) {
	cfg := testConfig(t, config.TransportPipe)
	app := newApp(t, cfg)

	in := strings.NewReader(`{"tool_id":"status","call_id":"c1"}` + "\n" + `{"tool_id":"nope","call_id":"c2"}` + "\n")
	var out bytes.Buffer
	if err := app.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 responses, got %q", out.String())
	}
	var first transport.Response
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if first.CallID != "c1" || !first.Result.OK() {
		t.Fatalf("unexpected status response %s", lines[0])
	}
	var status struct {
		Version   string `json:"version"`
		Transport string `json:"transport"`
	}
	raw, _ := json.Marshal(first.Result.Payload())
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatal(err)
	}
	if status.Version != "1.2.3" || status.Transport != config.TransportPipe {
		t.Fatalf("unexpected status %+v", status)
	}
	if !strings.Contains(lines[1], `"kind":"UnknownTool"`) {
		t.Fatalf("expected UnknownTool, got %s", lines[1])
	}

	n, err := app.Ledger.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recorded call, got %d", n)
	}
}

func TestNetworkServersShareOneWorkDir(t *testing.T) {
	cfg := testConfig(t, config.TransportHTTP)
	first := newApp(t, cfg)
	second := newApp(t, cfg)

	if err := first.lockInstance(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	err := second.lockInstance()
	if err == nil || !strings.Contains(err.Error(), "already using") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if err := second.lockInstance(); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig(t, config.TransportPipe)
	app := newApp(t, cfg)
	cfg.Server.Transport = "carrier-pigeon"
	if err := app.Serve(context.Background(), strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Fatal("expected unsupported transport error")
	}
}

func TestServeHTTPStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, config.TransportSSE)
	cfg.Server.ListenPort = 0
	app := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, nil, nil) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !app.lock.Locked() {
		t.Fatal("expected the instance lock to be held until Close")
	}
}
