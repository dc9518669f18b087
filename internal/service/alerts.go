package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

// WebhookAlerter posts alerts as JSON to an operator webhook.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter creates a WebhookAlerter. An empty url disables it.
func NewWebhookAlerter(url string, timeout time.Duration) *WebhookAlerter {
	return &WebhookAlerter{url: url, client: &http.Client{Timeout: timeout}}
}

// Send posts the alert and checks for a 2xx response.
func (w *WebhookAlerter) Send(ctx context.Context, alert models.Alert) (err error) {
	if w.url == "" {
		return nil
	}
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.EventsPublished.WithLabelValues("webhook", outcome).Inc()
	}()

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// AlertDispatcher fans alerts out to the webhook and the event publisher.
// Delivery happens in the background and failures are only logged.
type AlertDispatcher struct {
	webhook   *WebhookAlerter
	publisher EventPublisher
	timeout   time.Duration
}

// NewAlertDispatcher creates an AlertDispatcher. Either sink may be nil.
func NewAlertDispatcher(webhook *WebhookAlerter, publisher EventPublisher, timeout time.Duration) *AlertDispatcher {
	return &AlertDispatcher{webhook: webhook, publisher: publisher, timeout: timeout}
}

// Alert dispatches alert without blocking the caller.
func (d *AlertDispatcher) Alert(ctx context.Context, alert models.Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if d.webhook != nil {
			if err := d.webhook.Send(ctx, alert); err != nil {
				logger.Log.Warn("Failed to deliver alert to webhook",
					zap.String("type", alert.Type), zap.Error(err))
			}
		}
		if d.publisher != nil {
			if err := d.publisher.Publish(ctx, RoutingKeyAlert, uuid.NewString(), alert); err != nil {
				logger.Log.Warn("Failed to publish alert",
					zap.String("type", alert.Type), zap.Error(err))
			}
		}
	}()
}
