package browse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tmail/internal/app"
	"github.com/nhle/tmail/internal/keys"
	"github.com/nhle/tmail/internal/model"
	appsync "github.com/nhle/tmail/internal/sync"
	"github.com/nhle/tmail/internal/theme"
	"github.com/nhle/tmail/internal/ui"
	helpview "github.com/nhle/tmail/internal/ui/help"
)

// actionTimeout bounds a single enable or disable request.
const actionTimeout = 30 * time.Second

// Service changes the state of an alias.
type Service interface {
	Enable(ctx context.Context, email string) (*model.MaskedEmail, error)
	Disable(ctx context.Context, email string) (*model.MaskedEmail, error)
}

// Poller delivers refresh results.
type Poller interface {
	Start() tea.Cmd
	Stop()
	Refresh()
	WaitForNextResult() tea.Cmd
	Status() appsync.SyncStatus
}

// actionResultMsg reports the outcome of an enable or disable.
type actionResultMsg struct {
	email string
	me    *model.MaskedEmail
	err   error
}

// copiedMsg reports the outcome of a clipboard write.
type copiedMsg struct {
	email string
	err   error
}

// Model is the Bubble Tea model of the masked email browser.
type Model struct {
	svc       Service
	poller    Poller
	clipboard func(string) error

	keys   *keys.KeyMap
	layout ui.Layout
	table  table.Model
	help   helpview.Model

	emails  []model.MaskedEmail
	visible []model.MaskedEmail
	loaded  bool
	showAll bool
	query   string

	searchMode  bool
	searchInput textinput.Model
	showHelp    bool
	showDetail  bool

	status    string
	statusErr bool
}

// Option customizes a Model.
type Option func(*Model)

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) Option {
	return func(m *Model) { m.clipboard = fn }
}

// New creates a browser backed by svc for changes and p for refreshes.
func New(svc Service, p Poller, opts ...Option) Model {
	k := keys.DefaultKeyMap()

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	styles.Selected = theme.SelectedRowStyle
	t.SetStyles(styles)

	si := textinput.New()
	si.Placeholder = "filter by address, description or domain"
	si.Prompt = "/ "

	m := Model{
		svc:         svc,
		poller:      p,
		clipboard:   clipboard.WriteAll,
		keys:        k,
		layout:      ui.NewLayout(80, 24),
		table:       t,
		help:        helpview.New(k, 80, 24),
		searchInput: si,
		status:      "Loading masked emails...",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Run starts the browser full screen and blocks until it quits.
func Run(a *app.App) error {
	if _, err := a.Adapter(); err != nil {
		return err
	}
	p := appsync.New(a, a.Config.RefreshInterval(), a.Config.Timeout())
	defer p.Stop()

	_, err := tea.NewProgram(New(a, p), tea.WithAltScreen()).Run()
	return err
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return m.poller.Start()
}

// Update handles messages for the browser.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case appsync.SyncResultMsg:
		m.handleSync(msg)
		return m, m.poller.WaitForNextResult()

	case actionResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.replace(*msg.me)
		m.setStatus(fmt.Sprintf("%s is now %s", msg.me.Email, msg.me.State))
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.setError(fmt.Errorf("copying to clipboard: %w", msg.err))
			return m, nil
		}
		m.setStatus("Copied " + msg.email)
		return m, nil

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	return m, nil
}

func (m *Model) handleSync(msg appsync.SyncResultMsg) {
	if msg.Error != nil {
		if msg.AuthError {
			m.setError(fmt.Errorf("%w; quit and run 'tmail login'", msg.Error))
		} else {
			m.setError(msg.Error)
		}
		return
	}

	m.emails = msg.Emails
	m.loaded = true
	m.applyFilter()

	switch {
	case msg.NewCount > 0:
		m.setStatus(fmt.Sprintf("%d new masked email(s)", msg.NewCount))
	case m.statusErr || strings.HasPrefix(m.status, "Loading") || strings.HasPrefix(m.status, "Refreshing"):
		m.setStatus(fmt.Sprintf("Loaded %d masked emails", len(m.emails)))
	}
}

func (m Model) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.query = strings.TrimSpace(m.searchInput.Value())
		m.searchInput.Blur()
		m.applyFilter()
		return m, nil

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.searchInput.Blur()
		m.query = ""
		m.applyFilter()
		return m, nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleNormalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		if key.Matches(msg, m.keys.Quit) {
			m.poller.Stop()
			return m, tea.Quit
		}
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.poller.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.Back):
		if m.showDetail {
			m.showDetail = false
			m.resizeTable()
			return m, nil
		}
		if m.query != "" {
			m.query = ""
			m.searchInput.Reset()
			m.applyFilter()
		}
		return m, nil

	case key.Matches(msg, m.keys.Select):
		m.showDetail = !m.showDetail
		m.resizeTable()
		return m, nil

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.SetValue(m.query)
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.ToggleAll):
		m.showAll = !m.showAll
		m.applyFilter()
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.setStatus("Refreshing...")
		m.poller.Refresh()
		return m, nil

	case key.Matches(msg, m.keys.Copy):
		me, ok := m.selected()
		if !ok {
			return m, nil
		}
		write := m.clipboard
		return m, func() tea.Msg {
			return copiedMsg{email: me.Email, err: write(me.Email)}
		}

	case key.Matches(msg, m.keys.Enable):
		return m, m.changeState(model.StateEnabled)

	case key.Matches(msg, m.keys.Disable):
		return m, m.changeState(model.StateDisabled)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// changeState returns a command moving the selected alias to state, or
// nil when it is already there.
func (m *Model) changeState(state model.MaskedEmailState) tea.Cmd {
	me, ok := m.selected()
	if !ok {
		return nil
	}
	if me.State == state {
		m.setStatus(fmt.Sprintf("%s is already %s", me.Email, state))
		return nil
	}

	m.setStatus(fmt.Sprintf("Setting %s to %s...", me.Email, state))
	svc := m.svc
	email := me.Email
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		var (
			updated *model.MaskedEmail
			err     error
		)
		if state == model.StateEnabled {
			updated, err = svc.Enable(ctx, email)
		} else {
			updated, err = svc.Disable(ctx, email)
		}
		return actionResultMsg{email: email, me: updated, err: err}
	}
}

// selected returns the alias under the cursor.
func (m Model) selected() (model.MaskedEmail, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.visible) {
		return model.MaskedEmail{}, false
	}
	return m.visible[i], true
}

// replace swaps in an updated alias and re-applies the filter.
func (m *Model) replace(me model.MaskedEmail) {
	for i := range m.emails {
		if strings.EqualFold(m.emails[i].Email, me.Email) {
			m.emails[i] = me
		}
	}
	m.applyFilter()
}

func (m *Model) applyFilter() {
	m.visible = app.Filter(m.emails, app.ListOptions{All: m.showAll, Search: m.query})

	rows := make([]table.Row, 0, len(m.visible))
	for _, me := range m.visible {
		rows = append(rows, table.Row{
			me.Email,
			string(me.State),
			me.CreatedDate(),
			me.ForDomain,
			me.Description,
		})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(len(rows)-1, 0))
	}
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(err error) {
	m.status = "Error: " + err.Error()
	m.statusErr = true
}

func (m *Model) setSize(width, height int) {
	m.layout = ui.NewLayout(width, height)
	m.help.SetSize(width, height)
	m.searchInput.Width = width - 4
	m.table.SetColumns(columns(width))
	m.table.SetWidth(width)
	m.resizeTable()
}

// resizeTable fits the table to the content area, leaving room for the
// search bar and detail panel.
func (m *Model) resizeTable() {
	h := m.layout.ContentHeight() - 1
	if m.showDetail {
		h -= detailHeight
	}
	m.table.SetHeight(max(h, 3))
}

// columns sizes the table columns for a terminal of the given width.
func columns(width int) []table.Column {
	email := 36
	state := 9
	created := 10
	rest := width - email - state - created - 10
	if rest < 20 {
		rest = 20
	}
	domain := rest / 3
	return []table.Column{
		{Title: "Address", Width: email},
		{Title: "State", Width: state},
		{Title: "Created", Width: created},
		{Title: "Domain", Width: domain},
		{Title: "Description", Width: rest - domain},
	}
}

// View renders the browser.
func (m Model) View() string {
	header := m.layout.RenderHeader("tmail · masked emails", m.headerInfo())
	footer := m.layout.RenderStatusBar(m.footer(), m.statusErr)

	if m.showHelp {
		return m.layout.RenderWithFrame(header, m.help.View(), footer)
	}

	var body string
	switch {
	case m.searchMode:
		body = m.searchInput.View()
	case m.query != "":
		body = theme.HelpStyle.Render("filter: " + m.query)
	}

	var content string
	if m.loaded && len(m.visible) == 0 {
		content = m.renderEmptyState()
	} else {
		content = m.table.View()
	}
	content = lipgloss.JoinVertical(lipgloss.Left, body, content)

	if m.showDetail {
		if me, ok := m.selected(); ok {
			content = lipgloss.JoinVertical(lipgloss.Left, content, renderDetail(me, m.layout.Width))
		}
	}

	return m.layout.RenderWithFrame(header, content, footer)
}

func (m Model) headerInfo() string {
	scope := "enabled"
	if m.showAll {
		scope = "all"
	}
	info := fmt.Sprintf("%d/%d %s", len(m.visible), len(m.emails), scope)
	st := m.poller.Status()
	switch {
	case st.State == appsync.SyncRunning:
		info += " · syncing"
	case st.State == appsync.SyncError:
		info += " · sync failed"
	case !st.LastSync.IsZero():
		info += " · synced " + st.LastSync.Local().Format("15:04")
	}
	return info
}

func (m Model) footer() string {
	if m.status != "" {
		return m.status
	}
	return m.help.ShortView()
}

// renderEmptyState shows guidance text when no aliases match.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.layout.Width).
		Height(m.layout.ContentHeight()-1).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.query != "" || !m.showAll {
		return style.Render("No matching masked emails.\nPress a to show every state, esc to clear the filter.")
	}
	return style.Render("No masked emails found.\n\nCreate one with 'tmail masked create'.")
}
