package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/limitwatch/internal/services"
	"github.com/j-veylop/limitwatch/internal/services/accounts"
	"github.com/j-veylop/limitwatch/internal/ui/components"
	"github.com/j-veylop/limitwatch/internal/ui/styles"
)

// KeyMap defines the keybindings for the watch view.
type KeyMap struct {
	Refresh  key.Binding
	Compact  key.Binding
	ShowAll  key.Binding
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Refresh:  key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "refresh")),
		Compact:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "compact")),
		ShowAll:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all models")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "page up")),
		PageDown: key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "page down")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Compact, k.Help, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PageUp, k.PageDown},
		{k.Refresh, k.Compact, k.ShowAll},
		{k.Help, k.Quit},
	}
}

// Options configures the watch view.
type Options struct {
	Selection accounts.Selection
	Query     []string
	Interval  time.Duration
	ShowAll   bool
	Compact   bool
}

// Model is the watch view: a periodically refreshed list of quotas.
type Model struct {
	ctx      context.Context
	services *services.Manager
	state    *State
	events   chan services.ServiceEvent
	now      func() time.Time
	spinner  components.LoadingSpinner
	help     help.Model
	viewport viewport.Model
	keymap   KeyMap
	opts     Options
	width    int
	height   int
	ready    bool
	showHelp bool
}

// NewModel creates the watch model and subscribes it to manager events.
func NewModel(ctx context.Context, mgr *services.Manager, opts Options) *Model {
	if opts.Interval <= 0 {
		opts.Interval = DefaultTickInterval
	}
	events, _ := mgr.Subscribe()
	return &Model{
		ctx:      ctx,
		services: mgr,
		state:    NewState(),
		events:   events,
		now:      time.Now,
		spinner:  components.NewSpinner("Fetching quotas..."),
		help:     help.New(),
		viewport: viewport.New(0, 0),
		keymap:   DefaultKeyMap(),
		opts:     opts,
	}
}

// State returns the model's state.
func (m *Model) State() *State {
	return m.state
}

// Init starts the first refresh, the poll timer and the event subscription.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		services.WaitForEvent(m.events),
		m.spinner.Init(),
		m.startRefresh(),
		tickCmd(m.opts.Interval),
	)
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.resize()
		m.renderContent()

	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case TickMsg:
		cmds = append(cmds, m.startRefresh(), tickCmd(m.opts.Interval))

	case RefreshDoneMsg:
		m.state.SetResults(msg.At, msg.Results)
		m.renderContent()

	case RemoveNotificationMsg:
		m.state.RemoveNotification(msg.ID)

	case services.ServiceEvent:
		cmds = append(cmds, m.handleServiceEvent(msg), services.WaitForEvent(m.events))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.services.Unsubscribe(m.events)
		return tea.Quit
	case key.Matches(msg, m.keymap.Refresh):
		return m.startRefresh()
	case key.Matches(msg, m.keymap.Compact):
		m.opts.Compact = !m.opts.Compact
		m.renderContent()
		return nil
	case key.Matches(msg, m.keymap.ShowAll):
		m.opts.ShowAll = !m.opts.ShowAll
		return m.startRefresh()
	case key.Matches(msg, m.keymap.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.resize()
		return nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

func (m *Model) handleServiceEvent(event services.ServiceEvent) tea.Cmd {
	switch e := event.(type) {
	case services.FetchProgressEvent:
		if e.Done {
			m.state.Progress()
			m.spinner.SetLabel(fmt.Sprintf("Fetching quotas (%d/%d)...", m.state.Done, m.state.Total))
		}

	case services.RefreshedEvent:
		// Refreshes started elsewhere, e.g. by a file change.
		if !m.state.Refreshing {
			m.state.SetResults(e.At, e.Results)
			m.renderContent()
		}

	case services.AlertEvent:
		msg := fmt.Sprintf("%s: %s is at %.0f%%", e.Account, e.Quota, e.Remaining)
		if e.Kind == services.AlertReset {
			msg = fmt.Sprintf("%s: %s reset to %.0f%%", e.Account, e.Quota, e.Remaining)
		}
		return m.notify(NotificationWarning, msg, LongNotificationDuration)

	case services.ErrorEvent:
		return m.notify(NotificationError, fmt.Sprintf("%s: %v", e.Service, e.Error), LongNotificationDuration)

	case services.AccountsChangedEvent:
		return tea.Batch(
			m.notify(NotificationInfo, fmt.Sprintf("Accounts reloaded (%d)", len(e.Accounts)), DefaultNotificationDuration),
			m.startRefresh(),
		)
	}
	return nil
}

func (m *Model) notify(t NotificationType, message string, d time.Duration) tea.Cmd {
	id := m.state.AddNotification(t, message, d, m.now())
	return clearNotificationCmd(id, d)
}

// startRefresh begins a refresh unless one is already running.
func (m *Model) startRefresh() tea.Cmd {
	if m.state.Refreshing {
		return nil
	}
	m.state.StartRefresh(len(m.services.Accounts().Filter(m.opts.Selection)))
	m.spinner.SetLabel("Fetching quotas...")
	return refreshCmd(m.ctx, m.services, m.opts.Selection, m.opts.ShowAll)
}

func (m *Model) resize() {
	m.help.Width = m.width
	footer := lipgloss.Height(m.help.View(m.keymap))
	m.viewport.Width = m.width
	m.viewport.Height = max(1, m.height-footer-2)
}

func (m *Model) renderContent() {
	m.viewport.SetContent(RenderResults(m.state.Results, RenderOptions{
		Now:     m.now(),
		Query:   m.opts.Query,
		Width:   m.width,
		Compact: m.opts.Compact,
		ShowAll: m.opts.ShowAll,
	}))
}

// View renders the watch view.
func (m *Model) View() string {
	if !m.ready {
		return m.spinner.View()
	}

	main := strings.Join([]string{
		m.renderStatus(),
		"",
		m.viewport.View(),
		styles.HelpStyle.Render(m.help.View(m.keymap)),
	}, "\n")

	return m.overlayNotifications(main)
}

func (m *Model) renderStatus() string {
	title := styles.TitleStyle.Render("limitwatch")
	if m.state.Refreshing {
		return title + "  " + m.spinner.View()
	}
	if m.state.LastRefresh.IsZero() {
		return title
	}

	s := m.state.Stats
	status := fmt.Sprintf("updated %s · %d accounts · %d quotas",
		m.state.LastRefresh.Local().Format("15:04:05"), s.Accounts, s.Quotas)
	line := title + "  " + styles.MutedStyle.Render(status)
	if s.Failed > 0 {
		line += styles.MutedStyle.Render(" · ") + styles.ErrorTextStyle.Render(fmt.Sprintf("%d failed", s.Failed))
	}
	return line
}

func (m *Model) renderNotifications() []string {
	var toasts []string
	for _, n := range m.state.Notifications(m.now()) {
		style, prefix := styles.MutedStyle, "[INFO]"
		switch n.Type {
		case NotificationWarning:
			style, prefix = styles.WarningTextStyle, "[WARN]"
		case NotificationError:
			style, prefix = styles.ErrorTextStyle.Bold(true), "[ERR]"
		}
		toasts = append(toasts, style.Padding(0, 1).Render(prefix+" "+n.Message))
	}
	return toasts
}

// overlayNotifications draws the notification stack over the top right of
// the view, below the status line.
func (m *Model) overlayNotifications(mainView string) string {
	toasts := m.renderNotifications()
	if len(toasts) == 0 {
		return mainView
	}

	stack := lipgloss.JoinVertical(lipgloss.Right, toasts...)
	stackLines := strings.Split(stack, "\n")
	mainLines := strings.Split(mainView, "\n")
	startX := max(m.width-lipgloss.Width(stack)-1, 0)

	for i, toastLine := range stackLines {
		idx := 2 + i
		if idx >= len(mainLines) {
			break
		}
		line := mainLines[idx]
		if w := lipgloss.Width(line); w < startX {
			mainLines[idx] = line + strings.Repeat(" ", startX-w) + toastLine
		} else {
			mainLines[idx] = ansi.Truncate(line, startX, "") + toastLine
		}
	}
	return strings.Join(mainLines, "\n")
}
