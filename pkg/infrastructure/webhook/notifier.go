// Package webhook delivers structured events to the downstream automation
// endpoint.
//
// Delivery is best effort and at most once: there is no queue and no retry.
// The request carries the service's own pre-shared key in the "apikey"
// header so the receiver can authenticate it with the same convention the
// service uses for its inbound API.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// APIKeyHeader is the header carrying the pre-shared key.
const APIKeyHeader = "apikey"

// Config configures the notifier.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Notifier posts JSON payloads to one configured endpoint.
type Notifier struct {
	url    string
	client *resty.Client
}

// NewNotifier creates a notifier. An empty URL disables delivery.
func NewNotifier(cfg Config) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader(APIKeyHeader, cfg.APIKey)

	return &Notifier{url: cfg.URL, client: client}
}

// SetAPIKey replaces the key sent in the apikey header. Call it before the
// first delivery.
func (n *Notifier) SetAPIKey(key string) {
	n.client.SetHeader(APIKeyHeader, key)
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Notify delivers payload and logs any failure. It never returns an error
// and never panics on a bad endpoint.
func (n *Notifier) Notify(ctx context.Context, payload interface{}) {
	if err := n.Deliver(ctx, payload); err != nil {
		logger.ErrorCF("webhook", "Webhook delivery failed", map[string]interface{}{
			"url":   n.url,
			"error": err.Error(),
		})
	}
}

// Deliver performs one POST and reports the outcome. A disabled notifier
// returns nil without sending anything.
func (n *Notifier) Deliver(ctx context.Context, payload interface{}) error {
	if !n.Enabled() {
		logger.DebugC("webhook", "No webhook URL configured, skipping delivery")
		return nil
	}

	requestID := uuid.NewString()
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %s", resp.Status())
	}

	logger.DebugCF("webhook", "Webhook delivered", map[string]interface{}{
		"request_id": requestID,
		"status":     resp.StatusCode(),
	})
	return nil
}
