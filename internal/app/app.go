package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/roomcrew/roomnoti/internal/inbox"
	"github.com/roomcrew/roomnoti/internal/keys"
	"github.com/roomcrew/roomnoti/internal/live"
	"github.com/roomcrew/roomnoti/internal/model"
	sessionpkg "github.com/roomcrew/roomnoti/internal/session"
	appsync "github.com/roomcrew/roomnoti/internal/sync"
	"github.com/roomcrew/roomnoti/internal/ui"
	"github.com/roomcrew/roomnoti/internal/ui/command"
	helpview "github.com/roomcrew/roomnoti/internal/ui/help"
	"github.com/roomcrew/roomnoti/internal/ui/notilist"
)

// actionTimeout bounds a single list action started from the UI.
const actionTimeout = 30 * time.Second

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewHelp
	ViewCommand
)

// Syncer is the background loop feeding the UI.
type Syncer interface {
	Start(ctx context.Context) tea.Cmd
	Stop()
	WaitForNextResult() tea.Cmd
}

// Inbox performs the list actions.
type Inbox interface {
	Refresh(ctx context.Context) error
	LoadMore(ctx context.Context) (int, error)
	HasMore() bool
	Click(ctx context.Context, id int64) (string, error)
	Delete(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) (int, error)
}

// Session restores and ends the member's session.
type Session interface {
	Check(ctx context.Context) error
	Logout() error
}

// Reconnector restarts the live channel.
type Reconnector interface {
	Connect(ctx context.Context, member model.Member) error
}

// Deps are the collaborators the root model drives.
type Deps struct {
	Syncer  Syncer
	Inbox   Inbox
	Session Session
	Channel Reconnector
}

// actionMsg reports the outcome of a list action.
type actionMsg struct {
	op     string
	status string
	err    error
}

// Model is the root Bubble Tea model that manages view routing and layout.
type Model struct {
	ctx          context.Context
	deps         Deps
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	list         notilist.Model
	helpView     helpview.Model
	commandView  command.Model
	ready        bool

	authenticated bool
	member        model.Member
	unread        int
	liveState     live.State
	status        string
	statusIsError bool
}

// New creates the root application model. ctx bounds every background
// request the UI starts.
func New(ctx context.Context, deps Deps) Model {
	k := keys.DefaultKeyMap()
	return Model{
		ctx:         ctx,
		deps:        deps,
		currentView: ViewList,
		keys:        k,
		list:        notilist.New(k, 80, 22),
		helpView:    helpview.New(k, 80, 22),
		commandView: command.New(80, 22),
		layout:      ui.NewLayout(80, 24),
	}
}

// Init starts the syncer, then restores any stored session. The syncer
// subscribes before the check runs so the sign-in is not missed.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.deps.Syncer.Start(m.ctx), m.checkSession())
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.list.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		return m, nil

	case appsync.StoreChangedMsg:
		m.unread = msg.Unread
		m.list.SetHasMore(m.deps.Inbox.HasMore())
		cmd := m.list.SetItems(msg.Items)
		return m, tea.Batch(cmd, m.deps.Syncer.WaitForNextResult())

	case appsync.SessionMsg:
		m.authenticated = msg.Authenticated
		m.member = msg.Member
		m.list.SetAuthenticated(msg.Authenticated)
		if msg.Authenticated {
			m.setStatus(fmt.Sprintf("signed in as %s", msg.Member.Nickname), nil)
		} else {
			m.unread = 0
			m.liveState = live.Disconnected
			m.setStatus("signed out", nil)
		}
		return m, m.deps.Syncer.WaitForNextResult()

	case appsync.ChannelStateMsg:
		m.liveState = msg.State
		if msg.State == live.Stopped && msg.Err != nil {
			m.setStatus("", fmt.Errorf("live updates stopped: %w", msg.Err))
		}
		return m, m.deps.Syncer.WaitForNextResult()

	case appsync.ErrorMsg:
		m.setStatus("", fmt.Errorf("%s: %w", msg.Op, msg.Err))
		return m, m.deps.Syncer.WaitForNextResult()

	case notilist.OpenMsg:
		return m, m.click(msg.ID)

	case notilist.DeleteMsg:
		return m, m.remove(msg.ID)

	case notilist.LoadMoreMsg:
		return m, m.loadMore()

	case actionMsg:
		if msg.err != nil {
			m.setStatus("", fmt.Errorf("%s failed: %w", msg.op, msg.err))
		} else {
			m.setStatus(msg.status, nil)
		}
		m.list.SetHasMore(m.deps.Inbox.HasMore())
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleGlobalKey processes keys that work regardless of the list's
// selection. The palette keeps every key for its input.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		m.deps.Syncer.Stop()
		return tea.Quit, true
	}
	if m.currentView == ViewCommand {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true

	case key.Matches(msg, m.keys.Back):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
		}
		m.status = ""
		m.statusIsError = false
		return nil, true

	case key.Matches(msg, m.keys.Quit):
		if m.currentView == ViewList {
			m.deps.Syncer.Stop()
			return tea.Quit, true
		}
		return nil, false
	}

	if m.currentView != ViewList {
		return nil, false
	}
	if key.Matches(msg, m.keys.Command) {
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true
	}
	if !m.authenticated {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.Refresh):
		return m.refresh(), true

	case key.Matches(msg, m.keys.MarkAllRead):
		return m.markAllRead(), true

	case key.Matches(msg, m.keys.Logout):
		return m.logout(), true
	}
	return nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.headerTitle(), m.liveState.String())
	content := m.renderContent()

	var statusBar string
	if m.statusIsError {
		statusBar = m.layout.RenderErrorBar(m.status)
	} else {
		statusBar = m.layout.RenderStatusBar(m.statusText())
	}

	return m.layout.Frame(header, content, statusBar)
}

func (m Model) headerTitle() string {
	title := "roomnoti"
	if m.authenticated && m.member.Nickname != "" {
		title = fmt.Sprintf("roomnoti · %s", m.member.Nickname)
	}
	if m.unread > 0 {
		title = fmt.Sprintf("%s [%d unread]", title, m.unread)
	}
	return title
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return m.list.View()
	}
}

// statusText returns the last outcome, or keyboard hints when there is none.
func (m Model) statusText() string {
	if m.status != "" {
		return m.status
	}
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	default:
		if !m.authenticated {
			return "q quit | ? help"
		}
		return "enter open | d delete | A read all | r refresh | : command | ? help | q quit"
	}
}

func (m *Model) setStatus(status string, err error) {
	if err != nil {
		m.status = err.Error()
		m.statusIsError = true
		return
	}
	m.status = status
	m.statusIsError = false
}

// click marks the notification read and reports where it leads.
func (m Model) click(id int64) tea.Cmd {
	ctx, ib := m.ctx, m.deps.Inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		target, err := ib.Click(ctx, id)
		if inbox.IsDiscarded(err) {
			return nil
		}
		if errors.Is(err, inbox.ErrNotFound) {
			return actionMsg{op: "open", status: "that notification no longer exists"}
		}
		if err != nil {
			return actionMsg{op: "open", err: err}
		}
		if target == "" {
			return actionMsg{op: "open", status: "marked read"}
		}
		return actionMsg{op: "open", status: "→ " + target}
	}
}

func (m Model) remove(id int64) tea.Cmd {
	ctx, ib := m.ctx, m.deps.Inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		err := ib.Delete(ctx, id)
		if inbox.IsDiscarded(err) {
			return nil
		}
		if err != nil {
			return actionMsg{op: "delete", err: err}
		}
		return actionMsg{op: "delete", status: "deleted"}
	}
}

func (m Model) markAllRead() tea.Cmd {
	ctx, ib := m.ctx, m.deps.Inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		n, err := ib.MarkAllRead(ctx)
		if inbox.IsDiscarded(err) {
			return nil
		}
		if err != nil {
			return actionMsg{op: "read all", err: err}
		}
		return actionMsg{op: "read all", status: fmt.Sprintf("marked %d read", n)}
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, ib := m.ctx, m.deps.Inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		err := ib.Refresh(ctx)
		if inbox.IsDiscarded(err) {
			return nil
		}
		if err != nil {
			return actionMsg{op: "refresh", err: err}
		}
		return actionMsg{op: "refresh", status: "refreshed"}
	}
}

func (m Model) loadMore() tea.Cmd {
	ctx, ib := m.ctx, m.deps.Inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		added, err := ib.LoadMore(ctx)
		if inbox.IsDiscarded(err) {
			return nil
		}
		if err != nil {
			return actionMsg{op: "more", err: err}
		}
		if added == 0 {
			return actionMsg{op: "more", status: "no older notifications"}
		}
		return actionMsg{op: "more", status: fmt.Sprintf("loaded %d more", added)}
	}
}

func (m Model) checkSession() tea.Cmd {
	ctx, session := m.ctx, m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		err := session.Check(ctx)
		if err == nil || errors.Is(err, sessionpkg.ErrNoToken) {
			return nil
		}
		if errors.Is(err, sessionpkg.ErrExpired) {
			return actionMsg{op: "session", status: "your session expired, run 'roomnoti login'"}
		}
		return actionMsg{op: "session", err: err}
	}
}

func (m Model) logout() tea.Cmd {
	session := m.deps.Session
	return func() tea.Msg {
		if err := session.Logout(); err != nil {
			return actionMsg{op: "logout", err: err}
		}
		return nil
	}
}

func (m Model) reconnect() tea.Cmd {
	if m.deps.Channel == nil || !m.authenticated {
		return nil
	}
	ctx, ch, member := m.ctx, m.deps.Channel, m.member
	return func() tea.Msg {
		if err := ch.Connect(ctx, member); err != nil {
			return actionMsg{op: "reconnect", err: err}
		}
		return actionMsg{op: "reconnect", status: "reconnecting"}
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case "refresh", "sync":
		return m.refresh()
	case "read all", "readall":
		return m.markAllRead()
	case "more":
		return m.loadMore()
	case "reconnect":
		return m.reconnect()
	case "logout":
		return m.logout()
	case "quit", "q":
		m.deps.Syncer.Stop()
		return tea.Quit
	default:
		m.setStatus("", fmt.Errorf("unknown command %q", cmd))
		return nil
	}
}
