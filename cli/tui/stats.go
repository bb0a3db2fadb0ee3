package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/workbench/metrics"
)

// StatsModel is a Bubble Tea model for session counters.
type StatsModel struct {
	data     metrics.Snapshot
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(data metrics.Snapshot) StatsModel {
	return StatsModel{data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	d := m.data
	var b strings.Builder
	b.WriteString(styles.title.Render("Session Statistics"))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Artifacts", d.ArtifactsOpened, colors.accent),
		m.renderStatBox("Units", d.UnitsClosed, colors.accent),
		m.renderStatBox("Violations", d.ProtocolViolations, colors.busy),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Complete", d.UnitsCompleted, colors.ok),
		m.renderStatBox("Failed", d.UnitsFailed, colors.bad),
		m.renderStatBox("Aborted", d.UnitsAborted, colors.muted),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderStatBox("Notified", d.FileNotifications, colors.accent),
		m.renderStatBox("Dropped", d.NotificationsDropped, colors.busy),
		m.renderStatBox("Locked writes", d.LockedWrites, colors.bad),
	))

	help := styles.help.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.TerminalColor) string {
	content := styles.statNum.Foreground(color).Render(fmt.Sprintf("%d", value)) +
		"\n" + styles.statName.Render(label)
	return styles.statBox.BorderForeground(color).Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(data any) error {
	var snap metrics.Snapshot
	switch v := data.(type) {
	case metrics.Snapshot:
		snap = v
	case *metrics.Snapshot:
		if v == nil {
			return fmt.Errorf("invalid data type for %s: nil", ViewStatsSession)
		}
		snap = *v
	default:
		return fmt.Errorf("invalid data type for %s: %T", ViewStatsSession, data)
	}
	p := tea.NewProgram(NewStatsModel(snap), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
