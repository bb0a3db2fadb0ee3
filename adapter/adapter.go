// Package adapter defines the notification boundary toward preview
// collaborators.
//
// Adapters publish file change notifications to downstream systems (a
// preview server, a dev-server reloader). The Forwarder bridges the file
// store's synchronous Notifier to an Adapter without blocking the store.
package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/workbench/types"
)

// EventTypeFilesChanged is the event_type of every FilesChangedEvent.
const EventTypeFilesChanged = "files_changed"

// FilesChangedEvent is the payload published when the file store changes.
type FilesChangedEvent struct {
	ContractVersion string   `json:"contract_version"`
	EventType       string   `json:"event_type"` // always "files_changed"
	EventID         string   `json:"event_id"`
	Workspace       string   `json:"workspace"`
	Seq             int64    `json:"seq"`
	Paths           []string `json:"paths"`
	Timestamp       string   `json:"timestamp"` // RFC 3339
}

// NewFilesChangedEvent builds the payload for a store change.
func NewFilesChangedEvent(workspace string, change types.FileChange) *FilesChangedEvent {
	return &FilesChangedEvent{
		ContractVersion: types.Version,
		EventType:       EventTypeFilesChanged,
		EventID:         uuid.NewString(),
		Workspace:       workspace,
		Seq:             change.Seq,
		Paths:           change.Paths,
		Timestamp:       change.At.UTC().Format(time.RFC3339Nano),
	}
}

// Adapter publishes file change events to a downstream system.
type Adapter interface {
	// Publish sends an event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *FilesChangedEvent) error

	// Close releases adapter resources.
	Close() error
}
