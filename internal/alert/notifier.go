// Package alert generalizes internal/client.OrchestratorClient's HTTP client
// into a one-method webhook notifier for operator-attention conditions: a
// High-priority handler timeout (or other operator-attention-worthy
// condition) is POSTed to a configured endpoint rather than only logged.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the payload POSTed to the alert webhook.
type Event struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Priority  string    `json:"priority,omitempty"`
	SessionID uint32    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`
}

// Notifier posts Events to a configured webhook: a base URL plus an
// *http.Client with a fixed timeout.
type Notifier struct {
	WebhookURL string
	HTTPClient *http.Client
}

// New constructs a Notifier with a 10-second client timeout. An empty
// webhookURL yields a Notifier whose Notify is a no-op, so callers can wire
// it unconditionally even when alerting isn't configured.
func New(webhookURL string) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts ev to the webhook. Errors are returned for the caller to log;
// Notify never retries, since alerts are best-effort and should never block
// the dispatch path that triggered them.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if n.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alert: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned %s", resp.Status)
	}
	return nil
}

// OnTimeoutHook adapts a Notifier into the shape expected by
// internal/dispatch.Pool[T].OnTimeout, tagging the alert with the pool name
// so an operator can tell which priority class stalled.
func (n *Notifier) OnTimeoutHook(poolName string) func(detail string) {
	return func(detail string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Notify(ctx, Event{
			Kind:     "handler_timeout",
			Detail:   detail,
			Priority: poolName,
			Time:     time.Now(),
		})
	}
}
