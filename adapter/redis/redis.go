// Package redis publishes file change events on a Redis pub/sub channel that
// preview servers subscribe to for live reload.
//
// Pub/sub delivery is fire-and-forget, so each publish also stores the event
// under "<channel>:last". A preview server that (re)subscribes reads that key
// and compares seq to detect changes it missed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/workbench/adapter"
)

// DefaultChannel is the channel template. {workspace} is replaced by the
// event's workspace.
const DefaultChannel = "workbench:{workspace}:files_changed"

// LastSuffix is appended to the channel to name the last-event key.
const LastSuffix = ":last"

// DefaultLastTTL is how long the last-event key survives without updates.
const DefaultLastTTL = 24 * time.Hour

// DefaultTimeout bounds a single publish attempt.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is used by callers that have no configured value.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db] (required).
	URL string
	// Channel template (default DefaultChannel).
	Channel string
	// LastTTL for the last-event key (default 24h). Negative disables the key.
	LastTTL time.Duration
	// Timeout bounds one attempt (default 5s).
	Timeout time.Duration
	// Retries after the first attempt.
	Retries int
	// Backoff before the first retry, doubled per retry (default 500ms).
	Backoff time.Duration
}

// Adapter publishes file change events via Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter. The connection is established lazily.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.LastTTL == 0 {
		cfg.LastTTL = DefaultLastTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Channel returns the channel events of workspace are published on.
func (a *Adapter) Channel(workspace string) string {
	return strings.ReplaceAll(a.config.Channel, "{workspace}", workspace)
}

// Publish sends PUBLISH and the last-event SET in one pipeline.
// A closed client is not retried.
func (a *Adapter) Publish(ctx context.Context, event *adapter.FilesChangedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.Channel(event.Workspace)

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) (bool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		_, err := a.client.Pipelined(attemptCtx, func(p goredis.Pipeliner) error {
			p.Publish(attemptCtx, channel, body)
			if a.config.LastTTL > 0 {
				p.Set(attemptCtx, channel+LastSuffix, body, a.config.LastTTL)
			}
			return nil
		})
		return !errors.Is(err, goredis.ErrClosed), err
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
