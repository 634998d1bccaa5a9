// Package notify delivers completion notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/framer-cd/framer/domain"
)

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, recipient, title, body string) error {
	slog.Info("Notification",
		"layer", "notify",
		"recipient", recipient,
		"title", title,
		"body", body)
	return nil
}

// Message is the JSON document posted to a notification webhook
type Message struct {
	Recipient string    `json:"recipient"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookNotifier posts notifications as JSON to a URL
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, recipient, title, body string) error {
	payload, err := json.Marshal(Message{Recipient: recipient, Title: title, Body: body, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := n.httpClient.Do(request)
	if err != nil {
		return domain.Transient("notify", fmt.Errorf("failed to post notification: %w", err))
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 64*1024))

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", response.StatusCode)
	}
	return nil
}

// Notifier delivers a message to a recipient
type Notifier interface {
	Notify(ctx context.Context, recipient, title, body string) error
}

// New returns a webhook notifier when url is set and a log notifier otherwise
func New(url string, timeout time.Duration) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(url, timeout)
}
