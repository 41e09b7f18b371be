package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookConfig configures the webhook delivery channel.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// Webhook POSTs notifications as JSON to a configured endpoint.
type Webhook struct {
	url  string
	http *http.Client
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: cfg.URL, http: &http.Client{Timeout: timeout}}, nil
}

type webhookPayload struct {
	Job      string    `json:"job"`
	Message  string    `json:"message"`
	Priority int       `json:"priority"`
	Time     time.Time `json:"time"`
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		Job:      n.Job,
		Message:  n.Message,
		Priority: n.Priority,
		Time:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
