package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/workbench/adapter"
	"github.com/pithecene-io/workbench/types"
)

func testEvent() *adapter.FilesChangedEvent {
	return adapter.NewFilesChangedEvent("demo", types.FileChange{
		Seq:   3,
		Paths: []string{"/index.html"},
		At:    time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC),
	})
}

// asyncReceive reads one message in a goroutine. It must be started before
// Publish: miniredis delivers pub/sub messages synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPublish_WorkspaceChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr()})

	const channel = "workbench:demo:files_changed"
	if got := a.Channel("demo"); got != channel {
		t.Fatalf("Channel = %q, want %q", got, channel)
	}

	sub := mr.NewSubscriber()
	sub.Subscribe(channel)
	ch := asyncReceive(sub)

	event := testEvent()
	if err := a.Publish(t.Context(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := waitMessage(t, ch)
	var got adapter.FilesChangedEvent
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.EventID != event.EventID || got.Seq != 3 || got.Workspace != "demo" {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublish_StoresLastEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Channel: "preview.{workspace}", LastTTL: time.Hour})

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	key := "preview.demo" + LastSuffix
	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	var last adapter.FilesChangedEvent
	if err := json.Unmarshal([]byte(raw), &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Seq != 3 {
		t.Errorf("last seq = %d, want 3", last.Seq)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestPublish_LastEventDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), LastTTL: -1})

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if mr.Exists(a.Channel("demo") + LastSuffix) {
		t.Error("last-event key written although disabled")
	}
}

func TestPublish_ServerErrorExhaustsRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetError("ERR server unavailable")
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Retries: 2})

	err := a.Publish(t.Context(), testEvent())
	if err == nil || !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Fatalf("err = %v, want exhausted retries", err)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second, Backoff: time.Second})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestPublish_ClosedClientNotRetried(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3, Backoff: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A retry would wait an hour of backoff.
	err = a.Publish(t.Context(), testEvent())
	if !errors.Is(err, goredis.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing url", Config{}, true},
		{"invalid url", Config{URL: "not-a-redis-url"}, true},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}, true},
		{"defaults", Config{URL: "redis://localhost:6379"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = a.Close() }()
			c := a.config
			if c.Channel != DefaultChannel || c.LastTTL != DefaultLastTTL ||
				c.Timeout != DefaultTimeout || c.Backoff != adapter.DefaultBackoff {
				t.Errorf("defaults not applied: %+v", c)
			}
		})
	}
}
