//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// DefaultArtifactKind is used when an artifact tag carries no kind.
const DefaultArtifactKind = "default"

// DefaultArtifactTitle is used when an artifact tag carries no title.
const DefaultArtifactTitle = "Untitled"

// UnitKind discriminates the unit variants.
type UnitKind string

// Built-in unit kinds. Additional kinds may be declared through parser options.
const (
	UnitKindFile  UnitKind = "file"
	UnitKindShell UnitKind = "shell"
	UnitKindStart UnitKind = "start"
)

// IsFile returns true for file-write units.
// File units are only runnable once closed; every other kind may stream.
func (k UnitKind) IsFile() bool {
	return k == UnitKindFile
}

// UnitStatus is the lifecycle state of a unit.
type UnitStatus string

// Unit statuses.
const (
	UnitStatusPending  UnitStatus = "pending"
	UnitStatusRunning  UnitStatus = "running"
	UnitStatusComplete UnitStatus = "complete"
	UnitStatusFailed   UnitStatus = "failed"
	UnitStatusAborted  UnitStatus = "aborted"
)

// IsTerminal returns true if no further transitions are expected.
func (s UnitStatus) IsTerminal() bool {
	return s == UnitStatusComplete || s == UnitStatusFailed || s == UnitStatusAborted
}

// ParseUnitStatus validates a status string reported by an executor.
func ParseUnitStatus(s string) (UnitStatus, error) {
	switch st := UnitStatus(s); st {
	case UnitStatusPending, UnitStatusRunning, UnitStatusComplete, UnitStatusFailed, UnitStatusAborted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown unit status %q", s)
	}
}

// Artifact is a named group of units produced within one stream.
type Artifact struct {
	ID       string `json:"id" yaml:"id"`
	StreamID string `json:"stream_id" yaml:"stream_id"`
	Title    string `json:"title" yaml:"title"`
	Kind     string `json:"kind" yaml:"kind"`
	Closed   bool   `json:"closed" yaml:"closed"`
	// UnitIDs lists registered units in source order.
	UnitIDs []string `json:"unit_ids" yaml:"unit_ids"`
}

// Unit is one executable step nested inside an artifact.
// Kind discriminates the variant; Path is meaningful for file units only.
type Unit struct {
	ID         string     `json:"id" yaml:"id"`
	ArtifactID string     `json:"artifact_id" yaml:"artifact_id"`
	Kind       UnitKind   `json:"kind" yaml:"kind"`
	Path       string     `json:"path,omitempty" yaml:"path,omitempty"`
	Content    string     `json:"content" yaml:"content"`
	Status     UnitStatus `json:"status" yaml:"status"`
	// Message carries the failure reason for failed units.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// Dispatched is true once the run request has been sent.
	Dispatched bool `json:"dispatched" yaml:"dispatched"`
}

// Dispatch is the payload handed to the execution collaborator.
type Dispatch struct {
	UnitID     string     `json:"unit_id"`
	ArtifactID string     `json:"artifact_id"`
	Kind       UnitKind   `json:"kind"`
	Path       string     `json:"path,omitempty"`
	Content    string     `json:"content"`
	Status     UnitStatus `json:"status"`
}

// DispatchOf builds the collaborator payload for a unit.
func DispatchOf(u *Unit) Dispatch {
	return Dispatch{
		UnitID:     u.ID,
		ArtifactID: u.ArtifactID,
		Kind:       u.Kind,
		Path:       u.Path,
		Content:    u.Content,
		Status:     u.Status,
	}
}

// Snapshot is a read-only copy of the registry.
type Snapshot struct {
	Artifacts []Artifact `json:"artifacts" yaml:"artifacts"`
	Units     []Unit     `json:"units" yaml:"units"`
}

// UnitsByStatus counts units per status.
func (s Snapshot) UnitsByStatus() map[UnitStatus]int {
	counts := make(map[UnitStatus]int)
	for _, u := range s.Units {
		counts[u.Status]++
	}
	return counts
}
