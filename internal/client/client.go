// Package client provides an HTTP client for the /admin control plane shared
// by the session API and the scoring service.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wondertwin-ai/safmiles/internal/server"
)

// AdminClient talks to a server's /admin/* endpoints.
type AdminClient struct {
	baseURL string
	http    *http.Client
}

// New creates an AdminClient for the server at baseURL with a 5-second
// timeout.
func New(baseURL string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// do sends a request and returns the trimmed body of a 200 response.
func (c *AdminClient) do(method, path string, body io.Reader) (string, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *AdminClient) postJSON(path string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return c.do(http.MethodPost, path, bytes.NewReader(data))
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *AdminClient) Health() (bool, string) {
	body, err := c.do(http.MethodGet, "/admin/health", nil)
	if err != nil {
		return false, err.Error()
	}
	return true, body
}

// Reset calls POST /admin/reset.
func (c *AdminClient) Reset() (string, error) {
	return c.do(http.MethodPost, "/admin/reset", nil)
}

// State returns the body of GET /admin/state.
func (c *AdminClient) State() (string, error) {
	return c.do(http.MethodGet, "/admin/state", nil)
}

// Seed POSTs the contents of a JSON file to POST /admin/state.
func (c *AdminClient) Seed(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("reading seed file: %w", err)
	}
	body, err := c.do(http.MethodPost, "/admin/state", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("seed failed: %w", err)
	}
	return body, nil
}

// InjectFault registers a fault for the request path endpoint.
func (c *AdminClient) InjectFault(endpoint string, fault server.FaultConfig) (string, error) {
	return c.postJSON("/admin/fault/"+strings.TrimPrefix(endpoint, "/"), fault)
}

// RemoveFault clears the fault for endpoint.
func (c *AdminClient) RemoveFault(endpoint string) (string, error) {
	return c.do(http.MethodDelete, "/admin/fault/"+strings.TrimPrefix(endpoint, "/"), nil)
}

// FlushWebhooks delivers every queued claim webhook.
func (c *AdminClient) FlushWebhooks() (string, error) {
	return c.do(http.MethodPost, "/admin/webhooks/flush", nil)
}

// AdvanceTime moves the server clock forward by d.
func (c *AdminClient) AdvanceTime(d time.Duration) (string, error) {
	return c.postJSON("/admin/time/advance", map[string]string{"duration": d.String()})
}
