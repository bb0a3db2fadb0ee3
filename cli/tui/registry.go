package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/workbench/types"
)

// maxPreviewLines bounds the unit content shown under the list.
const maxPreviewLines = 12

// RegistryModel is a Bubble Tea model listing artifacts with their units.
// The cursor moves over units; the selected unit's content is previewed.
type RegistryModel struct {
	snapshot types.Snapshot
	units    map[string]types.Unit
	// rows holds unit ids in display order.
	rows     []string
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewRegistryModel creates a registry model from a snapshot.
func NewRegistryModel(snap types.Snapshot) RegistryModel {
	m := RegistryModel{
		snapshot: snap,
		units:    make(map[string]types.Unit, len(snap.Units)),
	}
	for _, u := range snap.Units {
		m.units[u.ID] = u
	}
	for _, a := range snap.Artifacts {
		for _, id := range a.UnitIDs {
			if _, ok := m.units[id]; ok {
				m.rows = append(m.rows, id)
			}
		}
	}
	return m
}

// Init implements tea.Model.
func (m RegistryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m RegistryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		}
	}

	return m, nil
}

// Selected returns the unit under the cursor.
func (m RegistryModel) Selected() (types.Unit, bool) {
	if len(m.rows) == 0 {
		return types.Unit{}, false
	}
	u, ok := m.units[m.rows[m.cursor]]
	return u, ok
}

// View implements tea.Model.
func (m RegistryModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("Artifacts"))
	b.WriteString("\n")

	if len(m.snapshot.Artifacts) == 0 {
		b.WriteString(styles.value.Render("(no artifacts)"))
		b.WriteString("\n")
	}

	selected, _ := m.Selected()
	for _, a := range m.snapshot.Artifacts {
		state := "open"
		if a.Closed {
			state = "closed"
		}
		fmt.Fprintf(&b, "%s %s\n",
			styles.label.Render(a.ID),
			styles.value.Render(fmt.Sprintf("%s (%s, %s)", a.Title, a.Kind, state)))

		for _, id := range a.UnitIDs {
			u, ok := m.units[id]
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-8s %s", u.Kind, unitLabel(u))
			if u.ID == selected.ID {
				line = styles.selected.Render("> " + strings.TrimPrefix(line, "  "))
			}
			fmt.Fprintf(&b, "%s  %s\n", line, styles.statusStyle(u.Status).Render(string(u.Status)))
		}
	}

	if u, ok := m.Selected(); ok {
		b.WriteString("\n")
		b.WriteString(styles.preview.Render(preview(u)))
	}

	help := styles.help.Render("↑/↓ select unit • q quit")
	return b.String() + "\n" + help
}

// unitLabel is the path for file units and the unit id otherwise.
func unitLabel(u types.Unit) string {
	if u.Path != "" {
		return u.Path
	}
	return u.ID
}

func preview(u types.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styles.label.Render("Unit:"), u.ID)
	if u.Message != "" {
		fmt.Fprintf(&b, "%s %s\n", styles.label.Render("Message:"), styles.message.Render(u.Message))
	}
	lines := strings.Split(strings.TrimRight(u.Content, "\n"), "\n")
	if len(lines) > maxPreviewLines {
		lines = append(lines[:maxPreviewLines], fmt.Sprintf("… %d more lines", len(lines)-maxPreviewLines))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
}

// RunRegistryTUI runs the registry viewer.
func RunRegistryTUI(data any) error {
	snap, ok := asSnapshot(data)
	if !ok {
		return fmt.Errorf("invalid data type for %s: %T", ViewInspectRegistry, data)
	}
	p := tea.NewProgram(NewRegistryModel(snap), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderRegistryStatic renders the registry without a full TUI (for fallback).
func RenderRegistryStatic(snap types.Snapshot) string {
	model := NewRegistryModel(snap)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

func asSnapshot(data any) (types.Snapshot, bool) {
	switch v := data.(type) {
	case types.Snapshot:
		return v, true
	case *types.Snapshot:
		if v == nil {
			return types.Snapshot{}, false
		}
		return *v, true
	}
	return types.Snapshot{}, false
}
