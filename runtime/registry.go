package runtime

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pithecene-io/workbench/types"
)

// Registry errors.
var (
	// ErrUnknownArtifact indicates an artifact id that was never opened.
	ErrUnknownArtifact = errors.New("unknown artifact")
	// ErrUnknownUnit indicates a unit id that was never registered.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrArtifactOwned indicates an artifact id opened by another stream.
	ErrArtifactOwned = errors.New("artifact owned by another stream")
)

// Registry is a flat arena of artifacts and units keyed by id.
// It is not safe for concurrent use; the Orchestrator serializes access.
type Registry struct {
	artifacts     map[string]*types.Artifact
	artifactOrder []string
	units         map[string]*types.Unit
	unitOrder     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		artifacts: make(map[string]*types.Artifact),
		units:     make(map[string]*types.Unit),
	}
}

// OpenArtifact registers an artifact. Opening an id already owned by the
// same stream returns the existing artifact, reopened; this is how a replay
// after a parser reset converges on the same state.
func (r *Registry) OpenArtifact(streamID string, h types.ArtifactHeader) (*types.Artifact, error) {
	if a, ok := r.artifacts[h.ID]; ok {
		if a.StreamID != streamID {
			return nil, fmt.Errorf("open %s from %s: %w", h.ID, streamID, ErrArtifactOwned)
		}
		a.Closed = false
		return a, nil
	}
	a := &types.Artifact{
		ID:       h.ID,
		StreamID: streamID,
		Title:    h.Title,
		Kind:     h.Kind,
	}
	r.artifacts[h.ID] = a
	r.artifactOrder = append(r.artifactOrder, h.ID)
	return a, nil
}

// CloseArtifact marks an artifact owned by streamID closed.
func (r *Registry) CloseArtifact(streamID, id string) (*types.Artifact, error) {
	a, err := r.owned(streamID, id)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", id, err)
	}
	a.Closed = true
	return a, nil
}

// AddUnit registers a unit under an artifact owned by streamID. When the id
// already exists the stored unit is returned with added=false.
func (r *Registry) AddUnit(streamID string, u types.Unit) (unit *types.Unit, added bool, err error) {
	a, err := r.owned(streamID, u.ArtifactID)
	if err != nil {
		return nil, false, fmt.Errorf("add unit %s: %w", u.ID, err)
	}
	if existing, ok := r.units[u.ID]; ok {
		return existing, false, nil
	}
	stored := u
	r.units[u.ID] = &stored
	r.unitOrder = append(r.unitOrder, u.ID)
	a.UnitIDs = append(a.UnitIDs, u.ID)
	return &stored, true, nil
}

// StreamUnit looks up a unit whose artifact is owned by streamID.
func (r *Registry) StreamUnit(streamID, id string) (*types.Unit, error) {
	u, ok := r.units[id]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", id, ErrUnknownUnit)
	}
	if _, err := r.owned(streamID, u.ArtifactID); err != nil {
		return nil, fmt.Errorf("unit %s: %w", id, err)
	}
	return u, nil
}

func (r *Registry) owned(streamID, artifactID string) (*types.Artifact, error) {
	a, ok := r.artifacts[artifactID]
	if !ok {
		return nil, ErrUnknownArtifact
	}
	if a.StreamID != streamID {
		return nil, fmt.Errorf("%w (owner %s, got %s)", ErrArtifactOwned, a.StreamID, streamID)
	}
	return a, nil
}

// Unit looks up a unit.
func (r *Registry) Unit(id string) (*types.Unit, bool) {
	u, ok := r.units[id]
	return u, ok
}

// Artifact looks up an artifact.
func (r *Registry) Artifact(id string) (*types.Artifact, bool) {
	a, ok := r.artifacts[id]
	return a, ok
}

// SetStatus records a unit status and message verbatim.
func (r *Registry) SetStatus(id string, status types.UnitStatus, message string) (*types.Unit, error) {
	u, ok := r.units[id]
	if !ok {
		return nil, fmt.Errorf("set status %s: %w", id, ErrUnknownUnit)
	}
	u.Status = status
	u.Message = message
	return u, nil
}

// NonTerminal returns units that are neither complete, failed nor aborted,
// in registration order.
func (r *Registry) NonTerminal() []*types.Unit {
	var out []*types.Unit
	for _, id := range r.unitOrder {
		if u := r.units[id]; !u.Status.IsTerminal() {
			out = append(out, u)
		}
	}
	return out
}

// Snapshot returns a deep copy of the registry in registration order.
func (r *Registry) Snapshot() types.Snapshot {
	snap := types.Snapshot{
		Artifacts: make([]types.Artifact, 0, len(r.artifactOrder)),
		Units:     make([]types.Unit, 0, len(r.unitOrder)),
	}
	for _, id := range r.artifactOrder {
		a := *r.artifacts[id]
		a.UnitIDs = slices.Clone(a.UnitIDs)
		snap.Artifacts = append(snap.Artifacts, a)
	}
	for _, id := range r.unitOrder {
		snap.Units = append(snap.Units, *r.units[id])
	}
	return snap
}

// Clear removes every artifact and unit.
func (r *Registry) Clear() {
	r.artifacts = make(map[string]*types.Artifact)
	r.artifactOrder = nil
	r.units = make(map[string]*types.Unit)
	r.unitOrder = nil
}
