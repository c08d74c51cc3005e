// Package webhook delivers claim acknowledgements to an external receiver
// with retries and signed payloads.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Signer signs webhook payloads.
type Signer interface {
	// Sign returns headers to add to the delivery request.
	Sign(payload []byte, secret string) (map[string]string, error)
}

// Event is one queued webhook.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Delivery records one delivery attempt.
type Delivery struct {
	EventID    string    `json:"event_id"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config configures a Dispatcher.
type Config struct {
	URL         string
	Secret      string
	Signer      Signer
	Logger      *slog.Logger
	MaxRetries  int
	RetryDelay  time.Duration
	EventPrefix string
	AutoDeliver bool // deliver in the background as soon as an event is queued
}

// Dispatcher queues events and delivers them to the configured URL.
type Dispatcher struct {
	mu          sync.RWMutex
	url         string
	secret      string
	signer      Signer
	logger      *slog.Logger
	queue       []Event
	deliveries  []Delivery
	maxRetries  int
	retryDelay  time.Duration
	client      *http.Client
	eventPrefix string
	counter     int
	autoDeliver bool
	sending     map[string]bool // event IDs a delivery currently owns


	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Zero values get defaults: 3 attempts,
// 1s between attempts, "evt" ID prefix.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.EventPrefix == "" {
		cfg.EventPrefix = "evt"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		url:         cfg.URL,
		secret:      cfg.Secret,
		signer:      cfg.Signer,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		client:      &http.Client{Timeout: 30 * time.Second},
		eventPrefix: cfg.EventPrefix,
		autoDeliver: cfg.AutoDeliver,
		sending:     make(map[string]bool),
	}
}

// SetURL updates the delivery URL.
func (d *Dispatcher) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Enqueue queues an event. With AutoDeliver the event is delivered in the
// background and removed from the queue once it succeeds.
func (d *Dispatcher) Enqueue(eventType string, payload map[string]any) Event {
	d.mu.Lock()
	d.counter++
	evt := Event{
		ID:        fmt.Sprintf("%s_%06d", d.eventPrefix, d.counter),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	d.queue = append(d.queue, evt)
	auto := d.autoDeliver
	if auto {
		d.sending[evt.ID] = true
		d.inflight.Add(1)
	}
	d.mu.Unlock()

	if auto {
		go func() {
			defer d.inflight.Done()
			err := d.deliverEvent(context.Background(), evt)
			if err != nil {
				d.logger.Warn("webhook delivery failed", "event_id", evt.ID, "error", err)
			}
			d.finish(evt.ID, err == nil)
		}()
	}
	return evt
}

// Flush delivers every queued event synchronously. Events that fail stay
// queued for the next flush. Events already being delivered in the
// background or by a concurrent Flush are skipped.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	var events []Event
	for _, evt := range d.queue {
		if d.sending[evt.ID] {
			continue
		}
		d.sending[evt.ID] = true
		events = append(events, evt)
	}
	d.mu.Unlock()

	var errs []error
	for i, evt := range events {
		if ctx.Err() != nil {
			for _, rest := range events[i:] {
				d.finish(rest.ID, false)
			}
			errs = append(errs, ctx.Err())
			break
		}
		err := d.deliverEvent(ctx, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", evt.ID, err))
		}
		d.finish(evt.ID, err == nil)
	}
	return errors.Join(errs...)
}

// FlushWebhooks implements admin.WebhookFlusher.
func (d *Dispatcher) FlushWebhooks() error {
	return d.Flush(context.Background())
}

// Wait blocks until background deliveries have finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// finish releases id and, when delivered, removes it from the queue.
func (d *Dispatcher) finish(id string, delivered bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sending, id)
	if !delivered {
		return
	}
	for i, evt := range d.queue {
		if evt.ID == id {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) record(delivery Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
}

func (d *Dispatcher) deliverEvent(ctx context.Context, evt Event) error {
	d.mu.RLock()
	url, secret, signer := d.url, d.secret, d.signer
	d.mu.RUnlock()

	if url == "" {
		d.logger.Debug("no webhook URL configured, skipping delivery", "event_id", evt.ID)
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var headers map[string]string
	if signer != nil && secret != "" {
		if headers, err = signer.Sign(payload, secret); err != nil {
			return fmt.Errorf("sign event: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		delivery := Delivery{EventID: evt.ID, URL: url, Attempt: attempt, Timestamp: time.Now().UTC()}
		resp, err := d.client.Do(req)
		if err != nil {
			delivery.Error = err.Error()
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			delivery.StatusCode = resp.StatusCode
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				d.record(delivery)
				return nil
			}
			lastErr = fmt.Errorf("webhook delivery failed: status %d", resp.StatusCode)
			delivery.Error = lastErr.Error()
		}
		d.record(delivery)

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
	}
	return lastErr
}

// Deliveries returns every delivery attempt.
func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

// QueuedEvents returns events not yet delivered.
func (d *Dispatcher) QueuedEvents() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Event, len(d.queue))
	copy(out, d.queue)
	return out
}

// Reset clears the queue, the delivery log and the ID counter.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = d.queue[:0]
	d.deliveries = d.deliveries[:0]
	d.counter = 0
	clear(d.sending)
}
