package client

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wondertwin-ai/safmiles/internal/scoring"
	"github.com/wondertwin-ai/safmiles/internal/server"
	"github.com/wondertwin-ai/safmiles/internal/store"
)

func newScoringServer(t *testing.T) (*httptest.Server, *scoring.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := scoring.NewService(nil, store.NewClock(), logger)
	srv := httptest.NewServer(scoring.NewServer(&server.Config{Name: "scoring"}, svc))
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestHealth(t *testing.T) {
	srv, _ := newScoringServer(t)
	ok, body := New(srv.URL + "/").Health()
	if !ok {
		t.Fatalf("expected healthy, got %s", body)
	}
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ok, msg := New(url).Health()
	if ok || msg == "" {
		t.Errorf("expected failure with message, got ok=%v msg=%q", ok, msg)
	}
}

func TestFaultLifecycle(t *testing.T) {
	srv, _ := newScoringServer(t)
	c := New(srv.URL)

	if _, err := c.InjectFault("/health", server.FaultConfig{StatusCode: 503}); err != nil {
		t.Fatalf("InjectFault() error: %v", err)
	}
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with fault, got %d", resp.StatusCode)
	}

	if _, err := c.RemoveFault("health"); err != nil {
		t.Fatalf("RemoveFault() error: %v", err)
	}
	if _, err := c.RemoveFault("health"); err == nil {
		t.Error("expected error removing a missing fault")
	}
}

func TestSeedStateReset(t *testing.T) {
	srv, svc := newScoringServer(t)
	c := New(srv.URL)

	_, err := svc.Predict(scoring.PredictRequest{
		Tier: "Gold", Cabin: "Business", Route: "HKG-LHR",
		DistanceKM: 9600, Premium: 25, SAFBlend: 0.2,
	})
	if err != nil {
		t.Fatal(err)
	}

	state, err := c.State()
	if err != nil {
		t.Fatalf("State() error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(state), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if got := svc.Predictions("", 0).Total; got != 0 {
		t.Fatalf("expected empty log after reset, got %d", got)
	}

	if _, err := c.Seed(path); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	if got := svc.Predictions("", 0).Total; got != 1 {
		t.Errorf("expected 1 prediction after seed, got %d", got)
	}
}

func TestSeedErrors(t *testing.T) {
	srv, _ := newScoringServer(t)
	c := New(srv.URL)

	if _, err := c.Seed(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Seed(path); err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected 400 seed failure, got %v", err)
	}
}

func TestAdvanceTimeAndFlush(t *testing.T) {
	srv, svc := newScoringServer(t)
	c := New(srv.URL)

	before := svc.Clock().Now()
	if _, err := c.AdvanceTime(2 * time.Hour); err != nil {
		t.Fatalf("AdvanceTime() error: %v", err)
	}
	if svc.Clock().Now().Sub(before) < 2*time.Hour {
		t.Error("expected clock to move forward at least 2h")
	}

	body, err := c.FlushWebhooks()
	if err != nil {
		t.Fatalf("FlushWebhooks() error: %v", err)
	}
	if !strings.Contains(body, "no webhooks configured") {
		t.Errorf("unexpected flush body: %s", body)
	}
}
