package predict

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/wondertwin-ai/safmiles/internal/flight"
)

var sampleRequest = flight.Request{
	Tier:       flight.TierGold,
	Cabin:      flight.CabinBusiness,
	Route:      flight.RouteJFK,
	DistanceKM: 12970,
	Premium:    25,
	SAFBlend:   0.24,
}

func TestPredictSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		for _, key := range []string{"tier", "cabin", "route", "distance_km", "premium", "saf_blend"} {
			if _, ok := body[key]; !ok {
				t.Errorf("request missing %q", key)
			}
		}
		if body["route"] != "HKG-JFK" {
			t.Errorf("expected route HKG-JFK, got %v", body["route"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"probability":0.912,"saf_miles":6,"co2_reduction":23018,"net_price":24.97,"profit":24.98,"current_saf_miles":6}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	res, err := c.Predict(context.Background(), sampleRequest)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	want := Result{Probability: 0.912, SAFMiles: 6, CO2Reduction: 23018, NetPrice: 24.97, Profit: 24.98}
	if res != want {
		t.Errorf("got %+v, want %+v", res, want)
	}
}

func TestPredictServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"model not loaded","type":"Service Unavailable","code":503}}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Predict(context.Background(), sampleRequest)
	if !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("service failure must not match ErrNetwork")
	}
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatal("expected *ServiceError")
	}
	if se.StatusCode != 503 {
		t.Errorf("expected status 503, got %d", se.StatusCode)
	}
	if se.Message != "model not loaded" {
		t.Errorf("unexpected message %q", se.Message)
	}
}

func TestPredictErrorFieldOnSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Internal Error: y contains previously unseen labels","selectedInputs":{}}`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Predict(context.Background(), sampleRequest)
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServiceError, got %v", err)
	}
	if se.Message != "Internal Error: y contains previously unseen labels" {
		t.Errorf("unexpected message %q", se.Message)
	}
}

func TestPredictUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Predict(context.Background(), sampleRequest)
	if !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
}

func TestPredictNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url}).Predict(context.Background(), sampleRequest)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatal("expected *NetworkError")
	}
}

func TestPredictCanceledIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New(Config{BaseURL: srv.URL}).Predict(ctx, sampleRequest)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if unhealthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	unhealthy.Store(true)
	if err := c.Health(context.Background()); !errors.Is(err, ErrService) {
		t.Errorf("expected ErrService, got %v", err)
	}
}

func TestErrorMessage(t *testing.T) {
	cases := map[string]string{
		`{"error":"boom"}`:                "boom",
		`{"error":{"message":"nested"}}`:  "nested",
		`{"detail":"Method Not Allowed"}`: "Method Not Allowed",
		`plain text failure`:              "plain text failure",
		``:                                "empty response",
	}
	for body, want := range cases {
		if got := errorMessage([]byte(body)); got != want {
			t.Errorf("errorMessage(%q) = %q, want %q", body, got, want)
		}
	}
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	body := "x" + strings.Repeat("é", 200)
	got := errorMessage([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("errorMessage returned invalid UTF-8: %q", got)
	}
	if len(got) > maxErrorMessage || !strings.HasPrefix(body, got) {
		t.Errorf("unexpected truncation: len=%d %q", len(got), got)
	}
	if len(got) != maxErrorMessage-1 {
		t.Errorf("expected %d bytes, got %d", maxErrorMessage-1, len(got))
	}
}
