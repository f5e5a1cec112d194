package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tmail/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the browser title bar.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// DetailPanelStyle wraps the detail view of a single alias.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// LabelStyle renders field names in detail views.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(14)

// AddressStyle highlights an alias address.
var AddressStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// ErrorStyle is used for error messages in the status bar.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// SelectedRowStyle highlights the focused table row.
var SelectedRowStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue)

// StateStyle returns a color-coded style for a masked email state.
func StateStyle(state model.MaskedEmailState) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch state {
	case model.StateEnabled:
		return base.Foreground(ColorGreen)
	case model.StatePending:
		return base.Foreground(ColorYellow)
	case model.StateDisabled:
		return base.Foreground(ColorGray)
	case model.StateDeleted:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
