package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Notifier delivers a human-readable message to an outbound channel.
// Delivery is best-effort: implementations log failures and never return them.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Webhook posts messages as {"text": ...} JSON to a chat webhook URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: defaultTimeout}}
}

func (w *Webhook) Notify(ctx context.Context, message string) {
	if w == nil || strings.TrimSpace(w.URL) == "" {
		return
	}
	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		log.Printf("notify: marshal failed: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: build request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		log.Printf("notify: deliver to %s failed: %v", w.URL, err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		log.Printf("notify: deliver to %s returned %d", w.URL, res.StatusCode)
	}
}

// Noop discards all messages.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}
