// Package webhook posts file change events to an HTTP endpoint, typically a
// preview server's reload hook.
//
// Each request carries the event as JSON plus delivery headers so receivers
// can deduplicate retried deliveries (X-Workbench-Event-Id) and drop stale
// ones (X-Workbench-Seq). With a secret the body is signed:
//
//	X-Workbench-Signature: sha256=<hex HMAC-SHA256 of body>
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pithecene-io/workbench/adapter"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Workbench-Event"
	HeaderEventID   = "X-Workbench-Event-Id"
	HeaderSeq       = "X-Workbench-Seq"
	HeaderSignature = "X-Workbench-Signature"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is used by callers that have no configured value.
const DefaultRetries = 3

// Config configures the webhook adapter.
type Config struct {
	// URL receives the POST (required).
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Secret, when set, signs the body.
	Secret string
	// Timeout bounds one attempt (default 10s).
	Timeout time.Duration
	// Retries after the first attempt.
	Retries int
	// Backoff before the first retry, doubled per retry (default 500ms).
	Backoff time.Duration
}

// Adapter publishes file change events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish delivers the event. Server errors, 408, 429 and transport
// failures are retried; other 4xx responses fail immediately.
func (a *Adapter) Publish(ctx context.Context, event *adapter.FilesChangedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) (bool, error) {
		err := a.deliver(ctx, event, body)
		return retriable(err), err
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func retriable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	switch {
	case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooManyRequests:
		return true
	case se.Code >= 400 && se.Code < 500:
		return false
	default:
		return true
	}
}

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) deliver(ctx context.Context, event *adapter.FilesChangedEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderEventID, event.EventID)
	req.Header.Set(HeaderSeq, strconv.FormatInt(event.Seq, 10))
	if a.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(a.config.Secret, body))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drained so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
