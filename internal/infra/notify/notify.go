// Package notify is the client for the notification dispatcher.
// Dispatch is best effort: callers log failures and never let them
// affect claim state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config holds dispatcher connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client posts events to the notification dispatcher.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a dispatcher client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// event is the wire format for a dispatched notification.
type event struct {
	Kind        string         `json:"kind"`
	RecipientID string         `json:"recipient_id"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Notify dispatches one event. The dispatcher owns templating and
// channel selection (email, push); this client only delivers the fact.
func (c *Client) Notify(ctx context.Context, eventKind, recipientID string, payload map[string]any) error {
	body, err := json.Marshal(event{Kind: eventKind, RecipientID: recipientID, Payload: payload})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatcher returned %d", resp.StatusCode)
	}
	return nil
}
