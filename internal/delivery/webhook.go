package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// WebhookOption configures a WebhookEnroller.
type WebhookOption func(*WebhookEnroller)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookEnroller) { w.http = c }
}

// WebhookEnroller POSTs each enrollment as JSON.
type WebhookEnroller struct {
	url  string
	key  string
	http *http.Client
}

// NewWebhookEnroller creates a WebhookEnroller. The key, when set, is sent
// in the X-Api-Key header.
func NewWebhookEnroller(url, key string, opts ...WebhookOption) *WebhookEnroller {
	w := &WebhookEnroller{
		url:  url,
		key:  key,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// EnrollProspect implements Enroller.
func (w *WebhookEnroller) EnrollProspect(ctx context.Context, prospectID, campaignID string) error {
	body, err := json.Marshal(newMessage(prospectID, campaignID))
	if err != nil {
		return eris.Wrap(err, "delivery: marshal webhook body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "delivery: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if w.key != "" {
		req.Header.Set("X-Api-Key", w.key)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "delivery: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resilience.StatusError("delivery: webhook", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close implements io.Closer.
func (w *WebhookEnroller) Close() error { return nil }
