package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier POSTs each alert as a flat JSON object. Any 2xx reply
// counts as delivered.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	TS      string     `json:"ts"`
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient(), log: log}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	at := alert.At
	if at.IsZero() {
		at = time.Now()
	}
	status, _, err := postJSON(ctx, w.client, w.url, webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		TS:      at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", status)
	}

	w.log.Debug().Str("url", w.url).Str("title", alert.Title).Msg("webhook alert sent")
	return nil
}
