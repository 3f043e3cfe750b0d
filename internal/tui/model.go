// Package tui is the terminal presentation of the clock snapshot: a
// bubbletea program that drives the refresh scheduler from its own tick and
// draws one lipgloss card per location.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
)

// Ticker is the part of the scheduler the program drives.
type Ticker interface {
	Tick(now time.Time) (worldclock.Snapshot, bool)
	TickInterval() time.Duration
}

// SnapshotFunc is called with every snapshot that caused a redraw, so other
// sinks (MQTT) can follow the display. It runs as a tea.Cmd, outside Update.
type SnapshotFunc func(worldclock.Snapshot)

type tickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
)

// Model is the bubbletea model of the display.
type Model struct {
	ticker      Ticker
	clockSource clock.Clock
	onRedraw    SnapshotFunc
	snapshot    worldclock.Snapshot
	lastRedraw  time.Time
	width       int
	quitting    bool
}

// NewModel starts from initial, the snapshot computed at construction.
func NewModel(ticker Ticker, initial worldclock.Snapshot, clockSource clock.Clock, onRedraw SnapshotFunc) Model {
	clockSource = clock.OrReal(clockSource)
	return Model{
		ticker:      ticker,
		clockSource: clockSource,
		onRedraw:    onRedraw,
		snapshot:    initial,
		lastRedraw:  initial.ComputedAt,
	}
}

// Init starts the tick loop.
//
//nolint:gocritic // bubbletea models must be passed by value
func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.ticker.TickInterval(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
//
//nolint:gocritic // bubbletea models must be passed by value
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		if snapshot, redraw := m.ticker.Tick(m.clockSource.Now()); redraw {
			m.snapshot = snapshot
			m.lastRedraw = snapshot.ComputedAt
			metrics.RecordRedraw("tui")
			if m.onRedraw != nil {
				// Sinks may block on the network; keep them off the update loop.
				return m, tea.Batch(m.tick(), notify(m.onRedraw, snapshot))
			}
		}
		return m, m.tick()
	}

	return m, nil
}

func notify(fn SnapshotFunc, snapshot worldclock.Snapshot) tea.Cmd {
	return func() tea.Msg {
		fn(snapshot)
		return nil
	}
}

// View renders the card grid.
//
//nolint:gocritic // bubbletea models must be passed by value
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("World Time"))
	b.WriteString("\n")
	b.WriteString(Grid(m.snapshot))
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("updated " + m.lastRedraw.Local().Format("15:04:05") + "  ·  q to quit"))
	return b.String()
}

// Snapshot returns the snapshot currently on screen.
func (m Model) Snapshot() worldclock.Snapshot {
	return m.snapshot
}

// Run shows the program until the user quits or ctx is cancelled.
func Run(ctx context.Context, model Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	_, err := tea.NewProgram(model, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
