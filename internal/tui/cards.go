package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"worldtime-display/internal/worldclock"
)

// CardsPerRow is the fixed grid width of the card layout.
const CardsPerRow = 3

const cardWidth = 22

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(cardWidth).
			Align(lipgloss.Center)

	homeCardStyle = cardStyle.
			BorderForeground(lipgloss.Color("42")).
			BorderStyle(lipgloss.DoubleBorder())

	nameStyle     = lipgloss.NewStyle().Bold(true)
	timeStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	fallbackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	aheadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	behindStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// DiffLabel renders the hour difference to the home location. The home card
// shows "home"; a non-whole-hour zone shows "Δ n/a".
func DiffLabel(entry worldclock.Entry) string {
	switch {
	case entry.Reference:
		return "home"
	case entry.DiffHours == nil:
		return "Δ n/a"
	case *entry.DiffHours == 1 || *entry.DiffHours == -1:
		return fmt.Sprintf("Δ %+d hour", *entry.DiffHours)
	default:
		return fmt.Sprintf("Δ %+d hours", *entry.DiffHours)
	}
}

// diffStyle colours the difference green at or ahead of home and red
// behind it.
func diffStyle(entry worldclock.Entry) lipgloss.Style {
	switch {
	case entry.DiffHours == nil:
		return mutedStyle
	case *entry.DiffHours < 0:
		return behindStyle
	default:
		return aheadStyle
	}
}

// Card renders one location.
func Card(entry worldclock.Entry) string {
	lines := []string{
		nameStyle.Render(entry.Name),
		timeStyle.Render(entry.DisplayTime),
		diffStyle(entry).Render(DiffLabel(entry)),
	}
	if entry.ZoneLabel != "" {
		lines = append(lines, mutedStyle.Render(entry.ZoneLabel))
	}
	if entry.Fallback {
		lines = append(lines, fallbackStyle.Render("local time"))
	}

	style := cardStyle
	if entry.Reference {
		style = homeCardStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

// Grid lays the cards out CardsPerRow to a row, in collection order.
func Grid(snapshot worldclock.Snapshot) string {
	if len(snapshot.Entries) == 0 {
		return mutedStyle.Render("no locations")
	}

	var rows []string
	for start := 0; start < len(snapshot.Entries); start += CardsPerRow {
		end := min(start+CardsPerRow, len(snapshot.Entries))
		cards := make([]string, 0, end-start)
		for _, entry := range snapshot.Entries[start:end] {
			cards = append(cards, Card(entry))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
