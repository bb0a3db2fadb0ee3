package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/types"
)

// Summary is the end-of-session payload of replay and inspect.
type Summary struct {
	Workspace string           `json:"workspace" yaml:"workspace"`
	StreamID  string           `json:"stream_id" yaml:"stream_id"`
	Registry  types.Snapshot   `json:"registry" yaml:"registry"`
	Files     []string         `json:"files" yaml:"files"`
	Alerts    []types.Alert    `json:"alerts,omitempty" yaml:"alerts,omitempty"`
	Metrics   metrics.Snapshot `json:"metrics" yaml:"metrics"`
	// ExportPrefix is set when the file store was exported.
	ExportPrefix string `json:"export_prefix,omitempty" yaml:"export_prefix,omitempty"`
}

// HasFailures reports whether any unit failed.
func (s *Summary) HasFailures() bool {
	return s.Registry.UnitsByStatus()[types.UnitStatusFailed] > 0
}

var statusColors = map[types.UnitStatus]lipgloss.Color{
	types.UnitStatusComplete: lipgloss.Color("#10B981"),
	types.UnitStatusRunning:  lipgloss.Color("#F59E0B"),
	types.UnitStatusFailed:   lipgloss.Color("#EF4444"),
	types.UnitStatusAborted:  lipgloss.Color("#6B7280"),
}

func (r *Renderer) status(s types.UnitStatus) string {
	c, ok := statusColors[s]
	if r.noColor || !ok {
		return string(s)
	}
	return lipgloss.NewStyle().Foreground(c).Render(string(s))
}

func (r *Renderer) renderSummaryTable(s *Summary) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "workspace:\t%s\n", s.Workspace)
	fmt.Fprintf(w, "stream:\t%s\n", s.StreamID)
	counts := s.Registry.UnitsByStatus()
	fmt.Fprintf(w, "units:\t%d (complete %d, failed %d, aborted %d, running %d, pending %d)\n",
		len(s.Registry.Units),
		counts[types.UnitStatusComplete], counts[types.UnitStatusFailed],
		counts[types.UnitStatusAborted], counts[types.UnitStatusRunning],
		counts[types.UnitStatusPending])
	fmt.Fprintf(w, "files:\t%d\n", len(s.Files))
	fmt.Fprintf(w, "violations:\t%d\n", s.Metrics.ProtocolViolations)
	if s.ExportPrefix != "" {
		fmt.Fprintf(w, "export:\t%s\n", s.ExportPrefix)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(r.out)
	if err := r.renderRegistryTable(s.Registry); err != nil {
		return err
	}

	if len(s.Alerts) > 0 {
		fmt.Fprintln(r.out)
		return r.renderAlertsTable(s.Alerts)
	}
	return nil
}

func (r *Renderer) renderAlertsTable(alerts []types.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(r.out, "(no alerts)")
		return nil
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT\tSOURCE\tTITLE\tDESCRIPTION")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Type, a.Source, a.Title, oneLine(a.Description))
	}
	return w.Flush()
}

func (r *Renderer) renderRegistryTable(snap types.Snapshot) error {
	if len(snap.Units) == 0 {
		fmt.Fprintln(r.out, "(no units)")
		return nil
	}

	units := make(map[string]types.Unit, len(snap.Units))
	for _, u := range snap.Units {
		units[u.ID] = u
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARTIFACT\tUNIT\tKIND\tTARGET\tSTATUS")
	for _, a := range snap.Artifacts {
		for _, id := range a.UnitIDs {
			u, ok := units[id]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, u.ID, u.Kind, target(u), r.status(u.Status))
		}
	}
	return w.Flush()
}

// target is the file path, or the first line of the command.
func target(u types.Unit) string {
	if u.Path != "" {
		return u.Path
	}
	return truncate(oneLine(u.Content), 48)
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// PrintVisible writes parsed visible text, ensuring a trailing newline.
func PrintVisible(w io.Writer, text string) {
	if text == "" {
		return
	}
	fmt.Fprint(w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(w)
	}
}
