// Package webhook delivers outbox messages as HTTP POST requests.
// Destination format: "webhook:https://example.com/hooks/loans".
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

// Publisher posts each outbox message's payload to the destination URL.
// Message headers are forwarded with an "X-Outbox-" prefix.
type Publisher struct {
	client         *http.Client
	defaultHeaders map[string]string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		if client != nil {
			p.client = client
		}
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.client.Timeout = d
	}
}

// WithDefaultHeaders adds headers sent with every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(p *Publisher) {
		for k, v := range headers {
			p.defaultHeaders[k] = v
		}
	}
}

// New creates a webhook Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scheme returns the destination scheme this publisher serves.
func (p *Publisher) Scheme() string {
	return "webhook"
}

// Publish posts the message payload to the destination URL. Any 4xx or 5xx
// response is an error so the processor retries or dead-letters the message.
func (p *Publisher) Publish(ctx context.Context, dest loanmaster.Destination, msg *loanmaster.OutboxMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.Target, bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("webhook: creating request: %w", err)
	}

	for k, v := range p.defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range msg.Headers {
		req.Header.Set("X-Outbox-"+k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed for %s: %w", dest.Target, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: status %d from %s", resp.StatusCode, dest.Target)
	}
	return nil
}

var _ loanmaster.Publisher = (*Publisher)(nil)
