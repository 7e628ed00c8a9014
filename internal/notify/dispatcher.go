// Package notify delivers rendered notifications to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miradorstack/mirador-statuswatch/internal/utils"
)

const maxAckBytes = 64 << 10

// DefaultRetry is three attempts with 1s then 2s between them.
var DefaultRetry = utils.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// DispatchError describes a webhook delivery that did not succeed. It never
// carries the webhook URL.
type DispatchError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString("webhook delivery failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": %s", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// WebhookDispatcher posts JSON payloads to one webhook URL.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
	retry      utils.RetryPolicy
	logger     *slog.Logger
}

// Option customises a WebhookDispatcher.
type Option func(*WebhookDispatcher)

// WithRetry replaces DefaultRetry.
func WithRetry(p utils.RetryPolicy) Option {
	return func(d *WebhookDispatcher) { d.retry = p }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *WebhookDispatcher) {
		if c != nil {
			d.httpClient = c
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(d *WebhookDispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewWebhookDispatcher returns a dispatcher for webhookURL.
func NewWebhookDispatcher(webhookURL string, timeout time.Duration, opts ...Option) *WebhookDispatcher {
	d := &WebhookDispatcher{
		url:        strings.TrimSpace(webhookURL),
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetry,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers payload, retrying per the configured policy. The error of
// the final attempt is returned when all attempts fail.
func (d *WebhookDispatcher) Send(ctx context.Context, payload any) error {
	if d == nil || d.url == "" {
		return &DispatchError{Err: errors.New("webhook URL not configured")}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &DispatchError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	policy := d.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		d.logger.Warn("webhook delivery failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
	}
	return policy.Do(ctx, func(ctx context.Context, _ int) error {
		return d.post(ctx, body)
	})
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &DispatchError{Err: redact(err)}
	}
	defer resp.Body.Close()

	ack, readErr := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DispatchError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(ack)),
		}
	}
	if readErr != nil {
		return &DispatchError{StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("read acknowledgment: %w", readErr)}
	}

	if isJSON(resp.Header.Get("Content-Type")) && len(bytes.TrimSpace(ack)) > 0 && !json.Valid(ack) {
		return &DispatchError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(ack)),
			Err:        errors.New("malformed acknowledgment"),
		}
	}
	return nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// redact drops the request URL from transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
