// Package notilist renders the notification inbox as a selectable list.
package notilist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roomcrew/roomnoti/internal/keys"
	"github.com/roomcrew/roomnoti/internal/model"
	"github.com/roomcrew/roomnoti/internal/theme"
)

// OpenMsg is sent when the member opens the selected notification.
type OpenMsg struct {
	ID int64
}

// DeleteMsg is sent when the member deletes the selected notification.
type DeleteMsg struct {
	ID int64
}

// LoadMoreMsg asks for the next page. It is sent on G, or when moving down
// from the last row while more pages exist.
type LoadMoreMsg struct{}

// Model is the notification list view component.
type Model struct {
	list          list.Model
	keys          *keys.KeyMap
	authenticated bool
	hasMore       bool
	width         int
	height        int
}

// New creates a new notification list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// SetItems replaces the rows, keeping the cursor on the same notification
// when it is still present and on the same row otherwise.
func (m *Model) SetItems(items []model.Notification) tea.Cmd {
	selected, hadSelection := m.SelectedID()
	cursor := m.list.Index()

	rows := make([]list.Item, len(items))
	for i, n := range items {
		rows[i] = Item{Notification: n}
	}
	if hadSelection {
		for i, n := range items {
			if n.ID == selected {
				cursor = i
				break
			}
		}
	}

	cmd := m.list.SetItems(rows)
	if len(rows) > 0 {
		m.list.Select(min(cursor, len(rows)-1))
	}
	return cmd
}

// SetAuthenticated switches between the inbox and the signed-out guidance.
func (m *Model) SetAuthenticated(ok bool) {
	m.authenticated = ok
}

// SetHasMore records whether another page can be loaded.
func (m *Model) SetHasMore(ok bool) {
	m.hasMore = ok
}

// SelectedID returns the id of the highlighted notification.
func (m Model) SelectedID() (int64, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return 0, false
	}
	return it.Notification.ID, true
}

// Len returns the number of rows.
func (m Model) Len() int {
	return len(m.list.Items())
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	if !m.authenticated {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Open):
		id, ok := m.SelectedID()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg { return OpenMsg{ID: id} }

	case key.Matches(msg, m.keys.Delete):
		id, ok := m.SelectedID()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg { return DeleteMsg{ID: id} }

	case key.Matches(msg, m.keys.LoadMore):
		return m, m.loadMore()

	case key.Matches(msg, m.keys.Down):
		if m.Len() > 0 && m.list.Index() == m.Len()-1 {
			return m, m.loadMore()
		}
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) loadMore() tea.Cmd {
	if !m.hasMore {
		return nil
	}
	return func() tea.Msg { return LoadMoreMsg{} }
}

// View renders the list view.
func (m Model) View() string {
	if !m.authenticated || m.Len() == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

// renderEmptyState shows guidance text when there is nothing to list.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if !m.authenticated {
		return style.Render(
			"You are signed out.\n\n" +
				"Run 'roomnoti login' to sign in.",
		)
	}

	return style.Render("No notifications yet.\nNew ones appear here as they arrive.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
