// Package types defines the core domain types shared by the parser,
// the orchestrator and the collaborator boundaries.
//
//nolint:revive // types is a common Go package naming convention
package types

// EventType is the parser lifecycle event discriminator.
type EventType string

// Parser lifecycle events, emitted in strict source order.
const (
	EventArtifactOpen  EventType = "artifact_open"
	EventArtifactClose EventType = "artifact_close"
	EventUnitOpen      EventType = "unit_open"
	EventUnitDelta     EventType = "unit_delta"
	EventUnitClose     EventType = "unit_close"
)

// IsLifecycle returns true for open/close events. Deltas are not lifecycle
// events: how many of them fire depends on how the stream was chunked.
func (e EventType) IsLifecycle() bool {
	return e != EventUnitDelta
}

// Event is a single parser emission.
// Artifact is set for every event; Unit is set for unit events only.
type Event struct {
	// Type is the event discriminator.
	Type EventType `json:"type" yaml:"type"`
	// StreamID is the stream that produced the event.
	StreamID string `json:"stream_id" yaml:"stream_id"`
	// Artifact describes the enclosing artifact.
	Artifact ArtifactHeader `json:"artifact" yaml:"artifact"`
	// Unit describes the unit (unit events only).
	Unit *UnitHeader `json:"unit,omitempty" yaml:"unit,omitempty"`
	// Content is the accumulated unit content so far (delta) or the
	// complete content (close).
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	// Delta is the content appended since the previous delta.
	Delta string `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// ArtifactHeader carries the attributes parsed from an artifact open tag.
type ArtifactHeader struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Kind  string `json:"kind" yaml:"kind"`
}

// UnitHeader carries the attributes parsed from a unit open tag.
type UnitHeader struct {
	// ID is the synthetic unit id, stable across reparses of the same text.
	ID   string   `json:"id" yaml:"id"`
	Kind UnitKind `json:"kind" yaml:"kind"`
	// Path is the target path (file units only).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}
