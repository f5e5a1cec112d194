package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tmail/internal/theme"
)

// Layout splits the terminal into a header line, a content area and a
// status line.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentHeight returns the rows left for the content area, never less
// than one.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 1 {
		return 1
	}
	return h
}

// RenderHeader renders title on the left and info on the right of a
// full-width bar.
func (l Layout) RenderHeader(title, info string) string {
	left := theme.HeaderStyle.Render(title)
	right := theme.HeaderStyle.Render(info)
	return l.fill(theme.HeaderStyle, left, right)
}

// RenderStatusBar renders msg in the bottom bar. Errors use the error
// color.
func (l Layout) RenderStatusBar(msg string, isErr bool) string {
	style := theme.StatusBarStyle
	if isErr {
		style = style.Foreground(theme.ErrorStyle.GetForeground()).Bold(true)
	}
	return l.fill(theme.StatusBarStyle, style.Render(msg), "")
}

// fill pads between left and right with the background of style so the
// bar spans the full width.
func (l Layout) fill(style lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame vertically joins the header, content and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
