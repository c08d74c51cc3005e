package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/store"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockState struct {
	data        map[string]string
	resetCalled bool
}

func newMockState() *mockState {
	return &mockState{data: map[string]string{"key": "value"}}
}

func (m *mockState) Snapshot() any { return m.data }

func (m *mockState) LoadState(data []byte) error {
	var d map[string]string
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	m.data = d
	return nil
}

func (m *mockState) Reset() {
	m.resetCalled = true
	m.data = map[string]string{"key": "value"}
}

type mockFlusher struct {
	flushErr error
	flushed  bool
}

func (m *mockFlusher) FlushWebhooks() error {
	m.flushed = true
	return m.flushErr
}

type fixture struct {
	srv   *httptest.Server
	mw    *server.Middleware
	state *mockState
	base  *server.Server
}

func setup(t *testing.T, clock *store.Clock, flusher WebhookFlusher) *fixture {
	t.Helper()
	base := server.New(&server.Config{Name: "test-admin"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	state := newMockState()

	h := NewHandler(state, base.Middleware(), clock)
	h.SetConfigProvider(base)
	if flusher != nil {
		h.SetFlusher(flusher)
	}
	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, mw: base.Middleware(), state: state, base: base}
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	f := setup(t, nil, nil)
	resp := do(t, http.MethodGet, f.srv.URL+"/admin/health", "")

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("unexpected health response %d %+v", resp.StatusCode, body)
	}
}

func TestHandleReset(t *testing.T) {
	clk := store.NewClock()
	clk.Advance(time.Hour)
	f := setup(t, clk, nil)
	f.mw.Faults.Set("/predict", server.FaultConfig{StatusCode: 500})
	f.mw.ReqLog.Add(server.RequestLogEntry{Path: "/x"})

	resp := do(t, http.MethodPost, f.srv.URL+"/admin/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !f.state.resetCalled {
		t.Error("expected state Reset to be called")
	}
	if clk.Offset() != 0 {
		t.Errorf("expected clock reset, got %v", clk.Offset())
	}
	if len(f.mw.Faults.All()) != 0 || len(f.mw.ReqLog.Entries()) != 0 {
		t.Error("expected faults and request log cleared")
	}
}

func TestStateRoundTrip(t *testing.T) {
	f := setup(t, nil, nil)

	resp := do(t, http.MethodPost, f.srv.URL+"/admin/state", `{"foo":"bar"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, f.srv.URL+"/admin/state", "")
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["foo"] != "bar" {
		t.Errorf("expected loaded state, got %+v", body)
	}

	resp = do(t, http.MethodPost, f.srv.URL+"/admin/state", "{bad json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad state, got %d", resp.StatusCode)
	}
}

func TestFaultLifecycle(t *testing.T) {
	f := setup(t, nil, nil)

	resp := do(t, http.MethodPost, f.srv.URL+"/admin/fault/predict", `{"status_code":503,"rate":1.0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if fault := f.mw.Faults.Check("/predict"); fault == nil || fault.StatusCode != 503 {
		t.Fatalf("expected fault on /predict, got %+v", fault)
	}

	resp = do(t, http.MethodPost, f.srv.URL+"/admin/fault/v1/sessions", `{"status_code":500}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if f.mw.Faults.Check("/v1/sessions") == nil {
		t.Error("nested paths should be registered whole")
	}

	resp = do(t, http.MethodGet, f.srv.URL+"/admin/faults", "")
	var listing map[string]server.FaultConfig
	json.NewDecoder(resp.Body).Decode(&listing)
	if len(listing) != 2 {
		t.Errorf("expected 2 faults, got %+v", listing)
	}

	if resp := do(t, http.MethodDelete, f.srv.URL+"/admin/fault/predict", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 on removal, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, f.srv.URL+"/admin/fault/predict", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second removal, got %d", resp.StatusCode)
	}
}

func TestInjectFaultRejectsBadInput(t *testing.T) {
	f := setup(t, nil, nil)
	for _, body := range []string{"{bad", `{"status_code":500,"rate":2}`} {
		if resp := do(t, http.MethodPost, f.srv.URL+"/admin/fault/predict", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestHandleGetRequests(t *testing.T) {
	f := setup(t, nil, nil)
	f.mw.ReqLog.Add(server.RequestLogEntry{Method: "POST", Path: "/predict"})

	resp := do(t, http.MethodGet, f.srv.URL+"/admin/requests", "")
	var entries []server.RequestLogEntry
	json.NewDecoder(resp.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Path != "/predict" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestRuntimeConfig(t *testing.T) {
	f := setup(t, nil, nil)

	resp := do(t, http.MethodPatch, f.srv.URL+"/admin/config", `{"latency":"25ms","fail_rate":0.2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cfg := f.base.GetConfig()
	if cfg["latency"] != "25ms" || cfg["fail_rate"] != 0.2 {
		t.Errorf("config not applied: %+v", cfg)
	}

	resp = do(t, http.MethodPatch, f.srv.URL+"/admin/config", `{"port":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for immutable key, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, f.srv.URL+"/admin/config", "")
	var got map[string]any
	json.NewDecoder(resp.Body).Decode(&got)
	if got["name"] != "test-admin" {
		t.Errorf("unexpected config listing %+v", got)
	}
}

func TestFlushWebhooks(t *testing.T) {
	f := setup(t, nil, nil)
	resp := do(t, http.MethodPost, f.srv.URL+"/admin/webhooks/flush", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 without flusher, got %d", resp.StatusCode)
	}

	fl := &mockFlusher{}
	f = setup(t, nil, fl)
	do(t, http.MethodPost, f.srv.URL+"/admin/webhooks/flush", "")
	if !fl.flushed {
		t.Error("expected flusher to be called")
	}

	failing := &mockFlusher{flushErr: errors.New("receiver down")}
	f = setup(t, nil, failing)
	resp = do(t, http.MethodPost, f.srv.URL+"/admin/webhooks/flush", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 on flush failure, got %d", resp.StatusCode)
	}
}

func TestTimeAdvance(t *testing.T) {
	clk := store.NewClock()
	f := setup(t, clk, nil)

	resp := do(t, http.MethodPost, f.srv.URL+"/admin/time/advance", `{"duration":"2h"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if clk.Offset() != 2*time.Hour {
		t.Errorf("expected 2h offset, got %v", clk.Offset())
	}

	for _, body := range []string{`{"duration":"soon"}`, `{"duration":"-1h"}`, "{bad"} {
		if resp := do(t, http.MethodPost, f.srv.URL+"/admin/time/advance", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}

	resp = do(t, http.MethodGet, f.srv.URL+"/admin/time", "")
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["offset"] != "2h0m0s" {
		t.Errorf("unexpected time response %+v", body)
	}
}

func TestTimeWithoutClock(t *testing.T) {
	f := setup(t, nil, nil)
	resp := do(t, http.MethodPost, f.srv.URL+"/admin/time/advance", `{"duration":"1h"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without clock, got %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, f.srv.URL+"/admin/time", "")
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if _, ok := body["simulated"]; ok {
		t.Error("simulated time should be absent without a clock")
	}
}
