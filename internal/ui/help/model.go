package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tmail/internal/keys"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/theme"
)

// Model is the full help overlay of the browser: key bindings followed
// by a legend of alias states.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	m := Model{keys: keys, help: h}
	m.SetSize(width, height)
	return m
}

// ShortView renders the one-line key hints for the status bar.
func (m Model) ShortView() string {
	h := m.help
	h.ShowAll = false
	return h.View(m.keys)
}

var stateNotes = []struct {
	state model.MaskedEmailState
	note  string
}{
	{model.StateEnabled, "receives mail"},
	{model.StatePending, "deleted after 24h unless it receives mail"},
	{model.StateDisabled, "mail goes to trash"},
	{model.StateDeleted, "mail is rejected"},
}

// View renders the help overlay.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Keyboard Shortcuts")

	var legend strings.Builder
	for _, sn := range stateNotes {
		legend.WriteString(theme.StateStyle(sn.state).Width(10).Render(string(sn.state)))
		legend.WriteString(theme.HelpStyle.Render(sn.note))
		legend.WriteString("\n")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.help.View(m.keys),
		"",
		strings.TrimRight(legend.String(), "\n"),
	)

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 0)).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
