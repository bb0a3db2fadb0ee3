// Package runtime turns parser events into a registry of units, writes file
// units into the file store and hands runnable units to an executor.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/workbench/filestore"
	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/parser"
	"github.com/pithecene-io/workbench/types"
)

// ErrNoExecutor is returned by New when Config.Executor is nil.
var ErrNoExecutor = errors.New("executor is required")

// Executor runs units. Implementations must not block: the orchestrator
// calls them while holding its lock.
type Executor interface {
	// Stream forwards partial content of a still-open unit.
	Stream(d types.Dispatch)
	// Run requests execution of a complete unit. Called once per unit.
	Run(d types.Dispatch)
	// Abort stops a unit.
	Abort(unitID string)
}

// StatusSink receives status reports from an executor.
type StatusSink interface {
	ReportStatus(unitID string, status types.UnitStatus, message string) error
}

// Binder is implemented by executors that report status asynchronously.
// New binds such executors to the orchestrator.
type Binder interface {
	Bind(sink StatusSink)
}

// Display is the user-facing surface.
// Implementations must not call back into the Orchestrator.
type Display interface {
	OnArtifactOpen(a types.Artifact)
	OnArtifactClose(a types.Artifact)
	OnUnit(u types.Unit)
	OnAlert(a types.Alert)
}

// NopDisplay discards display updates.
type NopDisplay struct{}

func (NopDisplay) OnArtifactOpen(types.Artifact)  {}
func (NopDisplay) OnArtifactClose(types.Artifact) {}
func (NopDisplay) OnUnit(types.Unit)              {}
func (NopDisplay) OnAlert(types.Alert)            {}

// Config wires an Orchestrator.
type Config struct {
	// Executor runs units (required).
	Executor Executor
	// Display receives updates. Defaults to NopDisplay.
	Display Display
	// Store receives file units. Defaults to an empty store.
	Store *filestore.Store
	// Parser parses streams. Defaults to a parser sharing Logger and Collector.
	Parser *parser.Parser
	// Logger is the structured logger. Nil discards.
	Logger *log.Logger
	// Collector records counters. Nil disables metrics.
	Collector *metrics.Collector
}

// Orchestrator owns the parser, the registry and the file store.
// Parse, ReportStatus and AbortAll are serialized by one mutex.
type Orchestrator struct {
	mu        sync.Mutex
	parser    *parser.Parser
	registry  *Registry
	store     *filestore.Store
	executor  Executor
	display   Display
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Executor == nil {
		return nil, ErrNoExecutor
	}
	o := &Orchestrator{
		parser:    cfg.Parser,
		registry:  NewRegistry(),
		store:     cfg.Store,
		executor:  cfg.Executor,
		display:   cfg.Display,
		logger:    cfg.Logger,
		collector: cfg.Collector,
	}
	if o.display == nil {
		o.display = NopDisplay{}
	}
	if o.store == nil {
		o.store = filestore.New(filestore.WithLogger(cfg.Logger), filestore.WithCollector(cfg.Collector))
	}
	if o.parser == nil {
		o.parser = parser.New(parser.WithLogger(cfg.Logger), parser.WithCollector(cfg.Collector))
	}
	if b, ok := cfg.Executor.(Binder); ok {
		b.Bind(o)
	}
	return o, nil
}

// Parse feeds the cumulative text of a stream through the parser and
// handles every resulting event in order. It returns the visible text this
// call produced. File store changes made during the call are reported as
// one notification.
func (o *Orchestrator) Parse(streamID, text string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	visible, events := o.parser.Parse(streamID, text)
	if len(events) == 0 {
		return visible
	}
	o.store.Batch(func() {
		for _, ev := range events {
			o.handle(ev)
		}
	})
	return visible
}

func (o *Orchestrator) handle(ev types.Event) {
	switch ev.Type {
	case types.EventArtifactOpen:
		o.onArtifactOpen(ev)
	case types.EventArtifactClose:
		o.onArtifactClose(ev)
	case types.EventUnitOpen:
		o.onUnitOpen(ev)
	case types.EventUnitDelta:
		o.onUnitDelta(ev)
	case types.EventUnitClose:
		o.onUnitClose(ev)
	}
}

func (o *Orchestrator) onArtifactOpen(ev types.Event) {
	a, err := o.registry.OpenArtifact(ev.StreamID, ev.Artifact)
	if err != nil {
		o.logger.Warn("artifact open rejected", map[string]any{
			"artifact_id": ev.Artifact.ID,
			"error":       err.Error(),
		})
		return
	}
	o.display.OnArtifactOpen(*a)
}

func (o *Orchestrator) onArtifactClose(ev types.Event) {
	a, err := o.registry.CloseArtifact(ev.StreamID, ev.Artifact.ID)
	if err != nil {
		o.logger.Warn("artifact close rejected", map[string]any{
			"artifact_id": ev.Artifact.ID,
			"error":       err.Error(),
		})
		return
	}
	o.display.OnArtifactClose(*a)
}

// onUnitOpen registers and starts streaming non-file units. File units are
// registered on close, once their content is complete.
func (o *Orchestrator) onUnitOpen(ev types.Event) {
	if ev.Unit.Kind.IsFile() {
		return
	}
	u, added := o.addUnit(ev)
	if !added {
		return
	}
	u.Status = types.UnitStatusRunning
	o.display.OnUnit(*u)
	o.executor.Stream(types.DispatchOf(u))
	o.collector.IncUnitsStreamed()
}

func (o *Orchestrator) onUnitDelta(ev types.Event) {
	if ev.Unit.Kind.IsFile() {
		return
	}
	u, err := o.registry.StreamUnit(ev.StreamID, ev.Unit.ID)
	if err != nil || u.Dispatched || u.Status.IsTerminal() {
		return
	}
	u.Content = ev.Content
	o.display.OnUnit(*u)
	o.executor.Stream(types.DispatchOf(u))
	o.collector.IncUnitsStreamed()
}

func (o *Orchestrator) onUnitClose(ev types.Event) {
	u, err := o.registry.StreamUnit(ev.StreamID, ev.Unit.ID)
	if errors.Is(err, ErrArtifactOwned) {
		o.logger.Warn("unit close rejected", map[string]any{
			"unit_id": ev.Unit.ID,
			"error":   err.Error(),
		})
		return
	}
	if err != nil {
		var added bool
		if u, added = o.addUnit(ev); !added {
			return
		}
	}
	if u.Dispatched || u.Status.IsTerminal() {
		// Replayed close after a parser reset.
		return
	}
	u.Content = ev.Content

	if u.Kind.IsFile() {
		if err := o.store.Write(u.Path, u.Content, filestore.FromUnit()); err != nil {
			o.fail(u, err)
			return
		}
	}

	u.Status = types.UnitStatusRunning
	u.Dispatched = true
	o.display.OnUnit(*u)
	o.executor.Run(types.DispatchOf(u))
	o.collector.IncUnitsDispatched()
	o.logger.Debug("unit dispatched", map[string]any{
		"unit_id": u.ID,
		"kind":    string(u.Kind),
	})
}

// addUnit registers a unit from an event. Returns added=false for replays
// and for units whose artifact is unknown.
func (o *Orchestrator) addUnit(ev types.Event) (*types.Unit, bool) {
	u, added, err := o.registry.AddUnit(ev.StreamID, types.Unit{
		ID:         ev.Unit.ID,
		ArtifactID: ev.Artifact.ID,
		Kind:       ev.Unit.Kind,
		Path:       ev.Unit.Path,
		Content:    ev.Content,
		Status:     types.UnitStatusPending,
	})
	if err != nil {
		o.logger.Warn("unit rejected", map[string]any{
			"unit_id": ev.Unit.ID,
			"error":   err.Error(),
		})
		return nil, false
	}
	return u, added
}

// fail marks a file unit failed before it reaches the executor.
func (o *Orchestrator) fail(u *types.Unit, err error) {
	u.Status = types.UnitStatusFailed
	u.Message = err.Error()
	o.collector.RecordTerminal(string(types.UnitStatusFailed))

	title := "Write failed"
	if errors.Is(err, filestore.ErrLocked) {
		o.collector.IncLockedWrites()
		title = "Locked file"
	}
	o.logger.Warn("file unit failed", map[string]any{
		"unit_id": u.ID,
		"path":    u.Path,
		"error":   err.Error(),
	})
	o.display.OnUnit(*u)
	o.display.OnAlert(types.Alert{
		Type:        types.AlertError,
		Title:       title,
		Description: fmt.Sprintf("%s was not written: %v", u.Path, err),
		Content:     u.Content,
		Source:      u.ID,
	})
}

// ReportStatus records a status reported by the executor verbatim.
// A failed status raises an alert; failures are not retried.
func (o *Orchestrator) ReportStatus(unitID string, status types.UnitStatus, message string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	u, err := o.registry.SetStatus(unitID, status, message)
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		o.collector.RecordTerminal(string(status))
	}
	o.display.OnUnit(*u)

	if status == types.UnitStatusFailed {
		o.logger.Warn("unit failed", map[string]any{
			"unit_id": unitID,
			"message": message,
		})
		o.display.OnAlert(types.Alert{
			Type:        types.AlertError,
			Title:       "Execution failed",
			Description: message,
			Content:     u.Content,
			Source:      u.ID,
		})
	}
	return nil
}

// AbortAll aborts every unit that has not reached a terminal status and
// returns how many were aborted. Files already written stay written.
func (o *Orchestrator) AbortAll() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	units := o.registry.NonTerminal()
	for _, u := range units {
		o.executor.Abort(u.ID)
		u.Status = types.UnitStatusAborted
		o.collector.RecordTerminal(string(types.UnitStatusAborted))
		o.display.OnUnit(*u)
	}
	if len(units) > 0 {
		o.logger.Info("aborted units", map[string]any{"count": len(units)})
	}
	return len(units)
}

// Reset discards parser state for the given streams, or all streams.
// The registry is kept so a replay of the same text dispatches nothing new.
func (o *Orchestrator) Reset(streamIDs ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parser.Reset(streamIDs...)
}

// Clear discards all parser state and every registered artifact and unit.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parser.Clear()
	o.registry.Clear()
}

// Snapshot returns a copy of the registry.
func (o *Orchestrator) Snapshot() types.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry.Snapshot()
}

// Visible returns the accumulated visible text of a stream.
func (o *Orchestrator) Visible(streamID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parser.Visible(streamID)
}

// Files returns a copy of the file store content keyed by path.
func (o *Orchestrator) Files() map[string]string {
	return o.store.Files()
}

// Store returns the file store.
func (o *Orchestrator) Store() *filestore.Store {
	return o.store
}
