package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type webhookResponse struct {
	Results []Result `json:"results"`
}

// WebhookGateway relays multicast messages to an HTTP push relay.
type WebhookGateway struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook gateway.
type WebhookOption func(*WebhookGateway)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(g *WebhookGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// NewWebhookGateway constructs a webhook gateway.
func NewWebhookGateway(url string, opts ...WebhookOption) (*WebhookGateway, error) {
	if url == "" {
		return nil, errors.New("webhook gateway: empty url")
	}
	gateway := &WebhookGateway{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(gateway)
	}
	return gateway, nil
}

// SendMulticast posts the message and decodes per-token results.
func (g *WebhookGateway) SendMulticast(ctx context.Context, msg Message) ([]Result, error) {
	if g == nil || g.url == "" {
		return nil, errors.New("webhook gateway: empty url")
	}
	if len(msg.Tokens) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("webhook gateway: non-2xx response %d", resp.StatusCode)
	}
	var decoded webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("webhook gateway: decode response: %w", err)
	}
	return decoded.Results, nil
}
