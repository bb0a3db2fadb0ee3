// Package render writes command results as json, yaml or a table.
//
// Without --format, a terminal gets a table and anything else gets json.
// Colors apply to tables only and are disabled by --no-color or a
// non-empty NO_COLOR environment variable. The TUI keeps its own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/workbench/cli/tui"
	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/types"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var formats = map[string]Format{
	"json":  FormatJSON,
	"table": FormatTable,
	"yaml":  FormatYAML,
}

// ParseFormat parses a case-insensitive format name. The empty string
// yields the empty Format, leaving the default to the caller.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return "", nil
	}
	if f, ok := formats[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer writing to the app's writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		format = FormatJSON
		if isTTY(out) {
			format = FormatTable
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color") || os.Getenv("NO_COLOR") != "",
		out:     out,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format { return r.format }

// RenderTUI runs the read-only TUI for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s (supported: %s)",
			viewType, strings.Join(tui.SupportedTUIViews(), ", "))
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// Field is one labelled value of a key/value table.
type Field struct {
	Name  string
	Value string
}

// Fielder is implemented by payloads that render as a key/value table.
type Fielder interface {
	Fields() []Field
}

func (r *Renderer) renderTable(data any) error {
	switch d := data.(type) {
	case *Summary:
		return r.renderSummaryTable(d)
	case Summary:
		return r.renderSummaryTable(&d)
	case types.Snapshot:
		return r.renderRegistryTable(d)
	case []types.Alert:
		return r.renderAlertsTable(d)
	case metrics.Snapshot:
		return r.renderFields(metricsFields(d))
	case Fielder:
		return r.renderFields(d.Fields())
	default:
		return fmt.Errorf("table format is not supported for %T (use json or yaml)", data)
	}
}

func (r *Renderer) renderFields(fields []Field) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(w, "%s:\t%s\n", f.Name, f.Value)
	}
	return w.Flush()
}

// metricsFields lists the session counters in display order.
func metricsFields(m metrics.Snapshot) []Field {
	counters := []struct {
		name string
		v    int64
	}{
		{"parse calls", m.ParseCalls},
		{"artifacts opened", m.ArtifactsOpened},
		{"artifacts closed", m.ArtifactsClosed},
		{"units opened", m.UnitsOpened},
		{"units closed", m.UnitsClosed},
		{"protocol violations", m.ProtocolViolations},
		{"units streamed", m.UnitsStreamed},
		{"units dispatched", m.UnitsDispatched},
		{"units completed", m.UnitsCompleted},
		{"units failed", m.UnitsFailed},
		{"units aborted", m.UnitsAborted},
		{"locked writes", m.LockedWrites},
		{"file notifications", m.FileNotifications},
		{"notifications sent", m.NotificationsSent},
		{"notifications dropped", m.NotificationsDropped},
		{"notifications failed", m.NotificationsFailed},
	}
	fields := make([]Field, len(counters))
	for i, c := range counters {
		fields[i] = Field{Name: c.name, Value: strconv.FormatInt(c.v, 10)}
	}
	return fields
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
