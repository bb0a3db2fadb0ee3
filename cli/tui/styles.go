// Package tui provides read-only Bubble Tea views of a workbench session:
// the artifact/unit registry and the session counters.
//
// TUI mode is opt-in (--tui) and renders the same payloads as the
// json/yaml/table output.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/workbench/types"
)

// palette holds colors that adapt to light and dark terminals.
type palette struct {
	accent, ok, busy, bad, muted, text lipgloss.TerminalColor
}

var colors = palette{
	accent: lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"},
	ok:     lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"},
	busy:   lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"},
	bad:    lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"},
	muted:  lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"},
	text:   lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"},
}

// theme is the set of styles the views draw with.
type theme struct {
	title    lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	selected lipgloss.Style
	message  lipgloss.Style
	preview  lipgloss.Style
	help     lipgloss.Style
	statBox  lipgloss.Style
	statNum  lipgloss.Style
	statName lipgloss.Style
	status   map[types.UnitStatus]lipgloss.Style
}

func newTheme(p palette) theme {
	fg := func(c lipgloss.TerminalColor) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(c)
	}
	return theme{
		title:    fg(p.accent).Bold(true).Underline(true),
		label:    fg(p.muted).Width(12),
		value:    fg(p.text),
		selected: fg(p.accent).Bold(true),
		message:  fg(p.bad).Italic(true),
		preview: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(p.muted).
			PaddingLeft(1),
		help: fg(p.muted).Faint(true),
		statBox: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			Width(18).
			Align(lipgloss.Center),
		statNum:  lipgloss.NewStyle().Bold(true),
		statName: fg(p.muted),
		status: map[types.UnitStatus]lipgloss.Style{
			types.UnitStatusPending:  fg(p.muted),
			types.UnitStatusRunning:  fg(p.busy),
			types.UnitStatusComplete: fg(p.ok),
			types.UnitStatusFailed:   fg(p.bad).Bold(true),
			types.UnitStatusAborted:  fg(p.muted).Strikethrough(true),
		},
	}
}

var styles = newTheme(colors)

// statusStyle falls back to the plain value style for unknown statuses.
func (t theme) statusStyle(s types.UnitStatus) lipgloss.Style {
	if st, ok := t.status[s]; ok {
		return st
	}
	return t.value
}
