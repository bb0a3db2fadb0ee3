// Package metrics provides per-session counters for the parser, the
// orchestrator and the notification path.
//
// The Collector is a leaf package with no internal dependencies so every
// component can record into it without import cycles.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Parser
	ParseCalls         int64 `json:"parse_calls"`
	ArtifactsOpened    int64 `json:"artifacts_opened"`
	ArtifactsClosed    int64 `json:"artifacts_closed"`
	UnitsOpened        int64 `json:"units_opened"`
	UnitsClosed        int64 `json:"units_closed"`
	ProtocolViolations int64 `json:"protocol_violations"`

	// Orchestrator
	UnitsStreamed   int64 `json:"units_streamed"`
	UnitsDispatched int64 `json:"units_dispatched"`
	UnitsCompleted  int64 `json:"units_completed"`
	UnitsFailed     int64 `json:"units_failed"`
	UnitsAborted    int64 `json:"units_aborted"`
	LockedWrites    int64 `json:"locked_writes"`

	// Notifications
	FileNotifications    int64 `json:"file_notifications"`
	NotificationsSent    int64 `json:"notifications_sent"`
	NotificationsDropped int64 `json:"notifications_dropped"`
	NotificationsFailed  int64 `json:"notifications_failed"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) add(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// --- Parser ---

// IncParseCalls records one Parse invocation.
func (c *Collector) IncParseCalls() { c.add(func(s *Snapshot) { s.ParseCalls++ }) }

// IncArtifactsOpened records an artifact_open event.
func (c *Collector) IncArtifactsOpened() { c.add(func(s *Snapshot) { s.ArtifactsOpened++ }) }

// IncArtifactsClosed records an artifact_close event.
func (c *Collector) IncArtifactsClosed() { c.add(func(s *Snapshot) { s.ArtifactsClosed++ }) }

// IncUnitsOpened records a unit_open event.
func (c *Collector) IncUnitsOpened() { c.add(func(s *Snapshot) { s.UnitsOpened++ }) }

// IncUnitsClosed records a unit_close event.
func (c *Collector) IncUnitsClosed() { c.add(func(s *Snapshot) { s.UnitsClosed++ }) }

// IncProtocolViolations records a skipped malformed or misplaced marker.
func (c *Collector) IncProtocolViolations() { c.add(func(s *Snapshot) { s.ProtocolViolations++ }) }

// --- Orchestrator ---

// IncUnitsStreamed records a partial-content forward to the executor.
func (c *Collector) IncUnitsStreamed() { c.add(func(s *Snapshot) { s.UnitsStreamed++ }) }

// IncUnitsDispatched records a run request.
func (c *Collector) IncUnitsDispatched() { c.add(func(s *Snapshot) { s.UnitsDispatched++ }) }

// IncLockedWrites records a file unit rejected by a lock.
func (c *Collector) IncLockedWrites() { c.add(func(s *Snapshot) { s.LockedWrites++ }) }

// RecordTerminal records a terminal unit status by name.
// Unknown names are ignored.
func (c *Collector) RecordTerminal(status string) {
	c.add(func(s *Snapshot) {
		switch status {
		case "complete":
			s.UnitsCompleted++
		case "failed":
			s.UnitsFailed++
		case "aborted":
			s.UnitsAborted++
		}
	})
}

// --- Notifications ---

// IncFileNotifications records a coalesced file store notification.
func (c *Collector) IncFileNotifications() { c.add(func(s *Snapshot) { s.FileNotifications++ }) }

// IncNotificationsSent records a successful adapter publish.
func (c *Collector) IncNotificationsSent() { c.add(func(s *Snapshot) { s.NotificationsSent++ }) }

// IncNotificationsDropped records a notification dropped on a full queue.
func (c *Collector) IncNotificationsDropped() { c.add(func(s *Snapshot) { s.NotificationsDropped++ }) }

// IncNotificationsFailed records an adapter publish that failed after retries.
func (c *Collector) IncNotificationsFailed() { c.add(func(s *Snapshot) { s.NotificationsFailed++ }) }

// Snapshot returns a point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
