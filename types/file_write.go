//nolint:revive // types is a common Go package naming convention
package types

import "time"

// FileChange is the coalesced change notification emitted by the file store.
// One FileChange covers every write and removal of one orchestrator pass.
type FileChange struct {
	// Seq is monotonic per store, starting at 1.
	Seq int64 `json:"seq"`
	// Paths lists changed paths in first-change order.
	Paths []string `json:"paths"`
	// At is when the change was flushed.
	At time.Time `json:"at"`
}

// AlertType classifies user-facing alerts.
type AlertType string

// Alert types.
const (
	AlertError   AlertType = "error"
	AlertWarning AlertType = "warning"
	AlertInfo    AlertType = "info"
)

// Alert is surfaced to the display when a unit cannot run or fails.
type Alert struct {
	Type        AlertType `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	// Content is the unit payload the alert is about.
	Content string `json:"content,omitempty"`
	// Source is the unit id.
	Source string `json:"source,omitempty"`
}
