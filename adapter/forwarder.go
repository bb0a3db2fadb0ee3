package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/types"
)

// DefaultQueueSize is the default number of pending notifications.
const DefaultQueueSize = 64

// DefaultDrainTimeout bounds how long Close waits for queued events.
const DefaultDrainTimeout = 10 * time.Second

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// Workspace is stamped on every event.
	Workspace string
	// QueueSize bounds pending notifications (default 64).
	QueueSize int
	// DrainTimeout bounds Close (default 10s).
	DrainTimeout time.Duration
	Logger       *log.Logger
	Collector    *metrics.Collector
}

// Forwarder publishes file store changes through an Adapter from a
// background goroutine. NotifyFileChange never blocks: when the queue is full
// the change is dropped, counted and logged.
type Forwarder struct {
	adapter Adapter
	config  ForwarderConfig

	mu     sync.RWMutex
	closed bool
	queue  chan *FilesChangedEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewForwarder starts a Forwarder. Close must be called to stop it.
func NewForwarder(a Adapter, cfg ForwarderConfig) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{
		adapter: a,
		config:  cfg,
		queue:   make(chan *FilesChangedEvent, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go f.loop()
	return f
}

// NotifyFileChange queues a change for publishing.
func (f *Forwarder) NotifyFileChange(change types.FileChange) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	event := NewFilesChangedEvent(f.config.Workspace, change)
	select {
	case f.queue <- event:
	default:
		f.config.Collector.IncNotificationsDropped()
		f.config.Logger.Warn("file change notification dropped", map[string]any{
			"seq":   change.Seq,
			"paths": len(change.Paths),
		})
	}
}

func (f *Forwarder) loop() {
	defer close(f.done)
	for event := range f.queue {
		if err := f.adapter.Publish(f.ctx, event); err != nil {
			f.config.Collector.IncNotificationsFailed()
			f.config.Logger.Warn("file change publish failed", map[string]any{
				"seq":   event.Seq,
				"error": err.Error(),
			})
			continue
		}
		f.config.Collector.IncNotificationsSent()
	}
}

// Close stops accepting changes, publishes what is queued within the drain
// timeout and closes the adapter.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	timer := time.NewTimer(f.config.DrainTimeout)
	defer timer.Stop()
	select {
	case <-f.done:
	case <-timer.C:
		f.config.Logger.Warn("file change drain timed out", map[string]any{
			"pending": len(f.queue),
		})
		f.cancel()
		<-f.done
	}
	f.cancel()
	return f.adapter.Close()
}
