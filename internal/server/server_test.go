package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dnyoussef/hooklog/internal/aggregator"
	"github.com/dnyoussef/hooklog/internal/archive"
	"github.com/dnyoussef/hooklog/internal/config"
	"github.com/dnyoussef/hooklog/internal/hub"
	"github.com/dnyoussef/hooklog/internal/logger"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/gorilla/websocket"
)

type fixture struct {
	srv  *httptest.Server
	log  *logger.Logger
	hub  *hub.Hub
	base string
}

func newFixture(t *testing.T, transports ...string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Transports = transports
	cfg.Level = "DEBUG"
	cfg.File.Directory = t.TempDir()
	cfg.Critical.StoreDir = t.TempDir()

	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	agg := aggregator.New(h.Subscribe(), h.Dropped)
	go h.Start(ctx)
	go agg.Start(ctx)

	l, err := logger.New(cfg, logger.WithConsoleWriter(io.Discard), logger.WithStream(h))
	if err != nil {
		t.Fatal(err)
	}
	a := archive.New(cfg.File.Directory, cfg.File.Filename)
	s := New(l, a, h, agg, ":0")
	srv := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		l.Close()
	})
	return &fixture{srv: srv, log: l, hub: h, base: srv.URL}
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.log.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

type entriesResponse struct {
	Count   int              `json:"count"`
	Entries []model.LogEntry `json:"entries"`
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "memory")
	var body map[string]any
	if code := do(t, "GET", f.base+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestMemoryQueryStatsAndClear(t *testing.T) {
	f := newFixture(t, "memory")
	dev := f.log.WithAgent(model.AgentContext{Name: "backend-dev"})
	dev.Info("a")
	dev.Error("b")
	f.log.Error("c")

	var resp entriesResponse
	if code := do(t, "GET", f.base+"/api/logs?level=error&agent_name=backend-dev", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Count != 1 || resp.Entries[0].Message != "b" {
		t.Errorf("unexpected query result %+v", resp)
	}

	if code := do(t, "GET", f.base+"/api/logs?level=loud", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown level, got %d", code)
	}

	var stats struct {
		Total   int            `json:"total"`
		ByLevel map[string]int `json:"by_level"`
	}
	do(t, "GET", f.base+"/api/logs/stats", &stats)
	if stats.Total != 3 || stats.ByLevel["ERROR"] != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if code := do(t, "DELETE", f.base+"/api/logs/memory", nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	do(t, "GET", f.base+"/api/logs", &resp)
	if resp.Count != 0 {
		t.Errorf("expected empty memory after clear, got %d", resp.Count)
	}
}

func TestFileEndpoints(t *testing.T) {
	f := newFixture(t, "file", "memory", "database")
	f.log.WithCorrelationID("trace-9").Info("step one")
	f.log.WithCorrelationID("trace-9").Error("step two")
	f.flush(t)

	var files struct {
		Count int `json:"count"`
	}
	do(t, "GET", f.base+"/api/logs/files", &files)
	if files.Count != 2 {
		t.Errorf("expected today's file and critical.log, got %d", files.Count)
	}

	var read entriesResponse
	if code := do(t, "GET", f.base+"/api/logs/query?offset=1", &read); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if read.Count != 1 || read.Entries[0].Message != "step two" {
		t.Errorf("unexpected file read %+v", read)
	}

	if code := do(t, "GET", f.base+"/api/logs/query?filename=hooks-1999-01-01.log", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	var trace entriesResponse
	do(t, "GET", f.base+"/api/logs/correlation/trace-9", &trace)
	// The error entry is in both today's file and critical.log.
	if trace.Count != 3 {
		t.Errorf("expected 3 traced entries, got %d", trace.Count)
	}

	var recent entriesResponse
	do(t, "GET", f.base+"/api/logs/errors/recent?hours=1", &recent)
	if recent.Count != 2 {
		t.Errorf("expected the error from both sources, got %d", recent.Count)
	}
	if code := do(t, "GET", f.base+"/api/logs/errors/recent?limit=501", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range limit, got %d", code)
	}

	var critical entriesResponse
	do(t, "GET", f.base+"/api/logs/critical", &critical)
	if critical.Count != 1 {
		t.Errorf("expected 1 stored critical entry, got %d", critical.Count)
	}
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t, "file")
	f.log.Info("exported")
	f.flush(t)

	resp, err := http.Get(f.base + "/api/logs/export?format=csv")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), ".csv") {
		t.Errorf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
	if !strings.Contains(string(body), "exported") {
		t.Errorf("expected entry in export, got %q", body)
	}

	if code := do(t, "GET", f.base+"/api/logs/export?format=xml", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported format, got %d", code)
	}
}

func TestRotateEndpoint(t *testing.T) {
	f := newFixture(t, "file")
	f.log.Info("before rotation")
	f.flush(t)

	var resp struct {
		Stats struct {
			Rotated int `json:"rotated_files"`
		} `json:"stats"`
	}
	if code := do(t, "POST", f.base+"/api/logs/rotate", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Stats.Rotated != 1 {
		t.Errorf("expected 1 rotated file, got %d", resp.Stats.Rotated)
	}

	g := newFixture(t, "memory")
	if code := do(t, "POST", g.base+"/api/logs/rotate", nil); code != http.StatusConflict {
		t.Errorf("expected 409 without file transport, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "memory")
	f.log.Info("counted")

	resp, err := http.Get(f.base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "hooklog_entries_total") {
		t.Error("expected hooklog_entries_total in metrics output")
	}
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, "memory")

	wsURL := "ws" + strings.TrimPrefix(f.base, "http") + "/ws?level=warn"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the subscription to register before logging.
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	f.log.Info("filtered out")
	f.log.Warn("streamed")

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var e model.LogEntry
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatal(err)
	}
	if e.Message != "streamed" || e.Level != model.LevelWarn {
		t.Errorf("unexpected streamed entry %+v", e)
	}
}
