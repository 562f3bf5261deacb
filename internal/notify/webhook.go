package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/marketledger/internal/crypto"
)

// WebhookSender posts the event's wire form to an arbitrary endpoint,
// HMAC-signed when a secret is configured.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. An empty secret sends unsigned.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{url: url, client: defaultClient()}
	if secret != "" {
		w.signer = crypto.NewWebhookSigner(secret)
	}
	return w
}

// Send posts {"event", "title", "body", "fields"}.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"event":  msg.Event,
		"title":  msg.Title,
		"body":   msg.Body,
		"fields": msg.Fields,
	}
	var sign func([]byte) map[string]string
	if w.signer != nil {
		sign = w.signer.Headers
	}
	if err := postJSON(ctx, w.client, w.url, payload, sign); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string { return "webhook" }
