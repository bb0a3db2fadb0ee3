package tui

import (
	"fmt"
	"slices"
)

// View types with TUI support.
const (
	ViewInspectRegistry = "inspect_registry"
	ViewStatsSession    = "stats_session"
)

// views maps each read-only view to its runner.
var views = map[string]func(data any) error{
	ViewInspectRegistry: RunRegistryTUI,
	ViewStatsSession:    RunStatsTUI,
}

// Run starts the TUI for viewType.
func Run(viewType string, data any) error {
	run, ok := views[viewType]
	if !ok {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	return run(data)
}

// IsTUISupported reports whether viewType has a TUI.
func IsTUISupported(viewType string) bool {
	_, ok := views[viewType]
	return ok
}

// SupportedTUIViews returns the view types with a TUI, sorted.
func SupportedTUIViews() []string {
	out := make([]string, 0, len(views))
	for v := range views {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
