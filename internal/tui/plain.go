package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"worldtime-display/internal/metrics"
	"worldtime-display/internal/worldclock"
)

// PlainRenderer writes each snapshot as an aligned text table. It is the
// display for non-interactive terminals and for `show`.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer writes to out.
func NewPlainRenderer(out io.Writer) *PlainRenderer {
	return &PlainRenderer{out: out}
}

// Render implements scheduler.Renderer.
func (r *PlainRenderer) Render(snapshot worldclock.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := WriteTable(r.out, snapshot); err != nil {
		return err
	}
	metrics.RecordRedraw("plain")
	return nil
}

// WriteTable prints one row per location followed by a blank line. The home
// row is marked with "*".
func WriteTable(out io.Writer, snapshot worldclock.Snapshot) error {
	rows := make([][]string, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		marker := " "
		if entry.Reference {
			marker = "*"
		}
		zone := entry.ZoneLabel
		if entry.Fallback {
			zone = strings.TrimSpace(zone + " (local time)")
		}
		rows = append(rows, []string{marker + " " + entry.Name, entry.DisplayTime, DiffLabel(entry), zone})
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out)
		return err
	}

	// Borderless, like a tab-aligned listing.
	t := table.New().
		Rows(rows...).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderRow(false).
		BorderColumn(false).
		StyleFunc(func(_, _ int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 2, 0, 0)
		})

	_, err := fmt.Fprintf(out, "%s\n\n", t.String())
	return err
}
