package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roomcrew/roomnoti/internal/keys"
	"github.com/roomcrew/roomnoti/internal/model"
	"github.com/roomcrew/roomnoti/internal/theme"
)

// Model is the help overlay: key bindings plus a legend for the list's
// badges.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(k *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	h.Width = width - 4
	return Model{
		keys:   k,
		help:   h,
		width:  width,
		height: height,
	}
}

// Update is a no-op; the root model closes the overlay.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	section := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		section.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		section.Render("Legend"),
		legend(),
	)

	return theme.PanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// legend lists the unread marker and every category badge.
func legend() string {
	badges := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		badges = append(badges, theme.CategoryStyle(c).Render(theme.CategoryGlyph(c)+" "+c.Label()))
	}
	unread := theme.UnreadDotStyle.Render("●") + theme.HelpStyle.Render(" unread")
	return lipgloss.JoinVertical(lipgloss.Left, unread, strings.Join(badges, " "))
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
