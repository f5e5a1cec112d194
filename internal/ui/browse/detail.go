package browse

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/theme"
)

// detailHeight is the number of rows renderDetail occupies.
const detailHeight = 8

// renderDetail renders every field of me in a bordered panel.
func renderDetail(me model.MaskedEmail, width int) string {
	created := formatTime(me.CreatedAt)
	if created == "" {
		created = me.CreatedAtRaw
	}
	lines := []string{
		field("Address", theme.AddressStyle.Render(me.Email)),
		field("State", theme.StateStyle(me.State).Render(string(me.State))),
		field("Domain", me.ForDomain),
		field("Description", me.Description),
		field("Created", created),
		field("Last message", formatTime(me.LastMessageAt)),
	}
	if me.URL != "" {
		lines[2] = field("Domain", me.ForDomain+"  "+theme.HelpStyle.Render(me.URL))
	}

	return theme.DetailPanelStyle.
		Width(max(width-2, 0)).
		Render(strings.Join(lines, "\n"))
}

func field(label, value string) string {
	if value == "" {
		value = theme.HelpStyle.Render("-")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, theme.LabelStyle.Render(label), value)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
