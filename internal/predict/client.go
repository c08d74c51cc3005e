// Package predict provides the HTTP client for the remote scoring service.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wondertwin-ai/safmiles/internal/flight"
)

var (
	// ErrNetwork matches every *NetworkError.
	ErrNetwork = errors.New("scoring service unreachable")
	// ErrService matches every *ServiceError.
	ErrService = errors.New("scoring service failed")
)

// Result is the scoring service's prediction for one request.
type Result struct {
	Probability  float64 `json:"probability" yaml:"probability"`
	SAFMiles     float64 `json:"saf_miles" yaml:"saf_miles"`
	CO2Reduction float64 `json:"co2_reduction" yaml:"co2_reduction"`
	NetPrice     float64 `json:"net_price" yaml:"net_price"`
	Profit       float64 `json:"profit" yaml:"profit"`
}

// NetworkError is a transport-level failure: the request never produced an
// HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ServiceError is a response the service produced but that is not a usable
// prediction: a non-success status or an undecodable body.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("scoring service error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Is(target error) bool { return target == ErrService }

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the scoring service. It never retries.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client. Timeout defaults to 10 seconds.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// Predict sends req to POST /predict and waits for the single response.
// Failures are either *NetworkError or *ServiceError.
func (c *Client) Predict(ctx context.Context, req flight.Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("predict failed", "err", err)
		return Result{}, &NetworkError{Op: "POST /predict", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &NetworkError{Op: "read /predict response", Err: err}
	}
	c.logger.Debug("predict response",
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var out struct {
		Result
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Result{}, &ServiceError{StatusCode: resp.StatusCode, Message: "invalid response body: " + err.Error()}
	}
	if len(out.Error) > 0 && string(out.Error) != "null" {
		return Result{}, &ServiceError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	return out.Result, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "GET /health", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &ServiceError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return nil
}

// maxErrorMessage caps how many bytes of a raw error body are reported.
const maxErrorMessage = 240

// errorMessage extracts a readable message from an error body. It understands
// {"error":"..."}, {"error":{"message":"..."}} and {"detail":"..."}, and falls
// back to the trimmed body text.
func errorMessage(body []byte) string {
	var envelope struct {
		Error  json.RawMessage `json:"error"`
		Detail any             `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Error) > 0 {
			var s string
			if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
				return s
			}
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
		}
		if envelope.Detail != nil {
			return fmt.Sprint(envelope.Detail)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		n := maxErrorMessage
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}
