package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/roomcrew/roomnoti/internal/theme"
)

// chromeRows is the header line plus the status line.
const chromeRows = 2

// Layout sizes the inbox screen: a one-line header, the list, and a
// one-line status bar.
type Layout struct {
	Width  int
	Height int
}

func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentWidth is the width the list may use.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight is what remains for the list once the header and status
// bar are drawn. Never negative.
func (l Layout) ContentHeight() int {
	return max(l.Height-chromeRows, 0)
}

// RenderHeader draws the title on the left and the live channel state on
// the right. On a narrow terminal the title is cut before the state is.
func (l Layout) RenderHeader(title, liveState string) string {
	state := theme.LiveStateStyle(liveState).Render(liveState)
	room := max(l.Width-lipgloss.Width(state), 0)

	left := theme.HeaderStyle.
		Width(room).
		MaxWidth(room).
		Render(title)

	return lipgloss.JoinHorizontal(lipgloss.Top, left, state)
}

// RenderStatusBar draws key hints or the outcome of the last action.
func (l Layout) RenderStatusBar(text string) string {
	return l.bar(theme.StatusBarStyle, text)
}

// RenderErrorBar draws a failed action's message.
func (l Layout) RenderErrorBar(text string) string {
	return l.bar(theme.ErrorBarStyle, text)
}

func (l Layout) bar(style lipgloss.Style, text string) string {
	return style.Width(l.Width).MaxWidth(l.Width).Render(text)
}

// Frame stacks header, list and status bar into the full screen.
func (l Layout) Frame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
