//nolint:revive // types is a common Go package naming convention
package types

// Frame type discriminants.
const (
	DispatchFrameType = "unit_dispatch"
	StatusFrameType   = "unit_status"
)

// DispatchMode tells the executor process what to do with a dispatch frame.
type DispatchMode string

const (
	// DispatchStream carries partial content of a still-open unit.
	DispatchStream DispatchMode = "stream"
	// DispatchRun carries the final payload; sent exactly once per unit.
	DispatchRun DispatchMode = "run"
	// DispatchAbort asks the executor to stop the unit.
	DispatchAbort DispatchMode = "abort"
)

// DispatchFrame is written to the executor process.
// Discriminated from status frames by Type == "unit_dispatch".
type DispatchFrame struct {
	// Type is always "unit_dispatch".
	Type string `msgpack:"type"`
	// ContractVersion is the frame contract version.
	ContractVersion string       `msgpack:"contract_version"`
	Mode            DispatchMode `msgpack:"mode"`
	UnitID          string       `msgpack:"unit_id"`
	ArtifactID      string       `msgpack:"artifact_id,omitempty"`
	Kind            UnitKind     `msgpack:"kind,omitempty"`
	Path            string       `msgpack:"path,omitempty"`
	Content         string       `msgpack:"content,omitempty"`
	Status          UnitStatus   `msgpack:"status,omitempty"`
}

// NewDispatchFrame builds a frame for a dispatch.
func NewDispatchFrame(mode DispatchMode, d Dispatch) *DispatchFrame {
	return &DispatchFrame{
		Type:            DispatchFrameType,
		ContractVersion: Version,
		Mode:            mode,
		UnitID:          d.UnitID,
		ArtifactID:      d.ArtifactID,
		Kind:            d.Kind,
		Path:            d.Path,
		Content:         d.Content,
		Status:          d.Status,
	}
}

// StatusFrame is read from the executor process.
// Discriminated by Type == "unit_status".
type StatusFrame struct {
	// Type is always "unit_status".
	Type   string `msgpack:"type"`
	UnitID string `msgpack:"unit_id"`
	Status string `msgpack:"status"`
	// Message is an optional failure description.
	Message string `msgpack:"message,omitempty"`
}
