package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/config"
	"github.com/oszuidwest/zwfm-levelmon/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmon/internal/monitor"
	"github.com/oszuidwest/zwfm-levelmon/internal/stream"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

type constMeter struct{}

func (constMeter) ReadPeak() (float64, error) { return 0.25, nil }
func (constMeter) Release() error             { return nil }

type testBackend struct {
	failLoopback bool
}

func (testBackend) InputDevices() ([]types.DeviceInfo, error) {
	return []types.DeviceInfo{{ID: "mic-1", Name: "USB Microphone", Channels: 1, SampleRate: 48000}}, nil
}

func (testBackend) OutputDevices() ([]types.DeviceInfo, error) {
	return []types.DeviceInfo{{ID: "spk-1", Name: "Speakers", Channels: 2, SampleRate: 48000}}, nil
}

func (b testBackend) LoopbackDevices() ([]types.DeviceInfo, error) {
	return b.OutputDevices()
}

func (b testBackend) AcquireMeter(kind audio.MeterKind, _ string) (audio.Meter, error) {
	if b.failLoopback && kind == audio.MeterLoopback {
		return nil, audio.ErrDeviceUnavailable
	}
	return constMeter{}, nil
}

func newTestServer(t *testing.T, backend testBackend) (*Server, http.Handler) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	if err := cfg.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	hub := stream.NewHub()
	m := monitor.NewManager(backend, monitor.WithSink(hub))
	t.Cleanup(func() {
		m.Close()
		hub.Close()
	})
	srv := NewServer(cfg, m, hub, nil, nil, nil, nil)
	return srv, srv.SetupRoutes()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth(config.DefaultWebUsername, config.DefaultWebPassword)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPIRequiresAuth(t *testing.T) {
	_, h := newTestServer(t, testBackend{})

	rec := doRequest(t, h, http.MethodGet, "/api/monitoring", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected a basic auth challenge")
	}

	if rec := doRequest(t, h, http.MethodGet, "/health", "", false); rec.Code != http.StatusOK {
		t.Errorf("expected public health endpoint, got %d", rec.Code)
	}
}

func TestAPIMonitoringLifecycle(t *testing.T) {
	srv, h := newTestServer(t, testBackend{})

	rec := doRequest(t, h, http.MethodPost, "/api/monitoring/start", `{"source":"both"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[types.MonitoringResponse](t, rec)
	if !resp.Success || resp.Message != "Both microphone and system monitoring started" {
		t.Errorf("unexpected start response %+v", resp)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/monitoring", "", true)
	status := decodeBody[struct {
		Monitors map[types.Source]types.MonitorStatus `json:"monitors"`
	}](t, rec)
	for _, src := range types.Sources {
		if !status.Monitors[src].Running {
			t.Errorf("expected %s running, got %+v", src, status.Monitors[src])
		}
	}

	rec = doRequest(t, h, http.MethodGet, "/health", "", false)
	health := decodeBody[map[string]any](t, rec)
	if health["running"] != float64(2) {
		t.Errorf("expected 2 running samplers in health, got %v", health["running"])
	}

	rec = doRequest(t, h, http.MethodPost, "/api/monitoring/stop", `{"source":"all"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}
	if resp := decodeBody[types.MonitoringResponse](t, rec); resp.Message != "All audio monitoring stopped" {
		t.Errorf("unexpected stop message %q", resp.Message)
	}
	for _, src := range types.Sources {
		if srv.manager.IsRunning(src) {
			t.Errorf("expected %s stopped", src)
		}
	}
}

func TestAPIMonitoringStartErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend testBackend
		method  string
		body    string
		code    int
	}{
		{"wrong method", testBackend{}, http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed json", testBackend{}, http.MethodPost, `{"source":`, http.StatusBadRequest},
		{"unknown source", testBackend{}, http.MethodPost, `{"source":"speaker"}`, http.StatusBadRequest},
		{"missing source", testBackend{}, http.MethodPost, `{}`, http.StatusBadRequest},
		{"device failure", testBackend{failLoopback: true}, http.MethodPost, `{"source":"system"}`, http.StatusServiceUnavailable},
		{"partial start", testBackend{failLoopback: true}, http.MethodPost, `{"source":"both"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestServer(t, tt.backend)
			rec := doRequest(t, h, tt.method, "/api/monitoring/start", tt.body, true)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAPIDevices(t *testing.T) {
	_, h := newTestServer(t, testBackend{})

	rec := doRequest(t, h, http.MethodGet, "/api/devices", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[struct {
		Input  []types.DeviceInfo `json:"input_devices"`
		Output []types.DeviceInfo `json:"output_devices"`
		System []types.DeviceInfo `json:"system_devices"`
	}](t, rec)
	if len(body.Input) != 1 || body.Input[0].ID != "mic-1" {
		t.Errorf("unexpected input devices %+v", body.Input)
	}
	if len(body.Output) != 1 || body.Output[0].ID != "spk-1" {
		t.Errorf("unexpected output devices %+v", body.Output)
	}
	if len(body.System) != 1 || body.System[0].ID != "spk-1" {
		t.Errorf("unexpected system devices %+v", body.System)
	}
}

func TestAPIEvents(t *testing.T) {
	srv, h := newTestServer(t, testBackend{})

	logger, err := eventlog.NewLogger(srv.config.Snapshot().EventLogPath)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	for _, ev := range []types.LifecycleEvent{
		{Type: types.MonitorStarted, Source: types.SourceMicrophone},
		{Type: types.MonitorFailed, Source: types.SourceSystem},
		{Type: types.MonitorStopped, Source: types.SourceMicrophone},
	} {
		logger.OnLifecycle(ev)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close event log: %v", err)
	}

	tests := []struct {
		name  string
		query string
		code  int
		count int
		more  bool
	}{
		{"all", "", http.StatusOK, 3, false},
		{"failures", "?filter=failure", http.StatusOK, 1, false},
		{"paged", "?limit=2", http.StatusOK, 2, true},
		{"offset", "?limit=2&offset=2", http.StatusOK, 1, false},
		{"bad filter", "?filter=everything", http.StatusBadRequest, 0, false},
		{"bad limit", "?limit=0", http.StatusBadRequest, 0, false},
		{"limit too large", "?limit=501", http.StatusBadRequest, 0, false},
		{"negative offset", "?offset=-1", http.StatusBadRequest, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/api/events"+tt.query, "", true)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			body := decodeBody[struct {
				Events  []eventlog.Event `json:"events"`
				HasMore bool             `json:"has_more"`
			}](t, rec)
			if len(body.Events) != tt.count || body.HasMore != tt.more {
				t.Errorf("expected %d events (more=%v), got %d (more=%v)", tt.count, tt.more, len(body.Events), body.HasMore)
			}
		})
	}
}

func TestAPIVersion(t *testing.T) {
	_, h := newTestServer(t, testBackend{})

	rec := doRequest(t, h, http.MethodGet, "/api/version", "", true)
	info := decodeBody[types.VersionInfo](t, rec)
	if info.Current != normalizeVersion(Version) {
		t.Errorf("expected current %q, got %q", normalizeVersion(Version), info.Current)
	}
	if info.UpdateAvail {
		t.Error("expected no update before any check")
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, h := newTestServer(t, testBackend{})

	rec := doRequest(t, h, http.MethodGet, "/health", "", false)
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options header")
	}
}
