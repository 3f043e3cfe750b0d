package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldtime-display/internal/clock"
	"worldtime-display/internal/metrics"
	"worldtime-display/internal/scheduler"
	"worldtime-display/internal/worldclock"
	"worldtime-display/testutil"
)

// 20:00 UTC is 14:00 on the default UTC-6 home clock.
var start = time.Date(2024, time.January, 10, 20, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*worldclock.Model, *scheduler.Scheduler, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClockAt(start)
	model, err := worldclock.New(worldclock.DefaultLocations(worldclock.OffsetStrategy), worldclock.WithClock(fake))
	require.NoError(t, err)
	return model, scheduler.New(model, scheduler.WithClock(fake)), fake
}

func intPtr(v int) *int { return &v }

func TestDiffLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entry worldclock.Entry
		want  string
	}{
		{worldclock.Entry{Reference: true, DiffHours: intPtr(0)}, "home"},
		{worldclock.Entry{DiffHours: intPtr(6)}, "Δ +6 hours"},
		{worldclock.Entry{DiffHours: intPtr(1)}, "Δ +1 hour"},
		{worldclock.Entry{DiffHours: intPtr(-1)}, "Δ -1 hour"},
		{worldclock.Entry{DiffHours: intPtr(-5)}, "Δ -5 hours"},
		{worldclock.Entry{DiffHours: intPtr(0)}, "Δ +0 hours"},
		{worldclock.Entry{}, "Δ n/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DiffLabel(tt.entry))
	}
}

func TestGrid_ThreeCardsPerRowInOrder(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	model, _, _ := newFixture(t)

	grid := Grid(model.Snapshot())

	// The first line mentioning a city is its card's name line.
	firstLineWith := func(name string) string {
		for _, line := range strings.Split(grid, "\n") {
			if strings.Contains(line, name) {
				return line
			}
		}
		t.Fatalf("%s missing from grid:\n%s", name, grid)
		return ""
	}

	first, second := firstLineWith("Austin"), firstLineWith("Bucharest")
	assert.Less(t, strings.Index(first, "Austin"), strings.Index(first, "NYC"))
	assert.Less(t, strings.Index(first, "NYC"), strings.Index(first, "London"))
	assert.NotContains(t, first, "Berlin")
	assert.Less(t, strings.Index(second, "Berlin"), strings.Index(second, "Bucharest"))

	for _, want := range []string{"14:00", "15:00", "20:00", "21:00", "22:00", "home", "Δ +6 hours", "America/Chicago"} {
		assert.Contains(t, grid, want)
	}
}

func TestCard_HighlightsHomeAndFallback(t *testing.T) {
	t.Parallel()

	home := Card(worldclock.Entry{Name: "Austin", DisplayTime: "14:00", Reference: true, DiffHours: intPtr(0)})
	away := Card(worldclock.Entry{Name: "Mars", DisplayTime: "09:00", ZoneLabel: "Not/AZone", Fallback: true})

	assert.Contains(t, home, "╔", "home card uses a double border")
	assert.NotContains(t, away, "╔")
	assert.Contains(t, away, "╭")
	assert.Contains(t, away, "local time")
	assert.Contains(t, away, "Δ n/a")
}

func TestDiffStyle_ColoursBySign(t *testing.T) {
	t.Parallel()

	assert.Equal(t, aheadStyle.GetForeground(), diffStyle(worldclock.Entry{Reference: true, DiffHours: intPtr(0)}).GetForeground())
	assert.Equal(t, aheadStyle.GetForeground(), diffStyle(worldclock.Entry{DiffHours: intPtr(6)}).GetForeground())
	assert.Equal(t, behindStyle.GetForeground(), diffStyle(worldclock.Entry{DiffHours: intPtr(-3)}).GetForeground())
	assert.Equal(t, mutedStyle.GetForeground(), diffStyle(worldclock.Entry{}).GetForeground())
	assert.NotEqual(t, aheadStyle.GetForeground(), behindStyle.GetForeground())
}

func TestGrid_Empty(t *testing.T) {
	t.Parallel()
	assert.Contains(t, Grid(worldclock.Snapshot{}), "no locations")
}

func TestModel_TickRedrawsOnlyAfterInterval(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	model, sched, fake := newFixture(t)

	var published []worldclock.Snapshot
	m := NewModel(sched, model.Snapshot(), fake, func(s worldclock.Snapshot) {
		published = append(published, s)
	})
	assert.NotNil(t, m.Init())

	fake.Advance(59 * time.Second)
	next, cmd := m.Update(tickMsg(fake.Now()))
	m = next.(Model)
	assert.NotNil(t, cmd, "tick loop continues")
	assert.Empty(t, published)
	assert.Equal(t, start, m.Snapshot().ComputedAt)

	fake.Advance(time.Second)
	next, cmd = m.Update(tickMsg(fake.Now()))
	m = next.(Model)
	assert.Empty(t, published, "sinks are notified from a command, not from Update")
	runNotify(t, cmd)
	require.Len(t, published, 1)
	assert.Equal(t, start.Add(time.Minute), m.Snapshot().ComputedAt)

	austin, ok := m.Snapshot().Lookup("Austin")
	require.True(t, ok)
	assert.Equal(t, "14:01", austin.DisplayTime)
	assert.Contains(t, m.View(), "14:01")
	assert.Contains(t, m.View(), "q to quit")

	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.Redraws.WithLabelValues("tui")))
}

// runNotify executes the non-tick commands of a batch. tea.Tick commands
// would sleep, so each member runs in a goroutine and only the ones that
// return promptly are awaited.
func runNotify(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok, "redraw returns a batch")

	done := make(chan struct{}, len(batch))
	for _, c := range batch {
		go func() {
			if c != nil {
				c()
			}
			done <- struct{}{}
		}()
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no command finished")
	}
}

func TestModel_SlowSinkDoesNotBlockQuit(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	model, sched, fake := newFixture(t)

	release := make(chan struct{})
	defer close(release)
	m := NewModel(sched, model.Snapshot(), fake, func(worldclock.Snapshot) { <-release })

	fake.Advance(time.Minute)
	updated := make(chan tea.Model, 1)
	go func() {
		next, _ := m.Update(tickMsg(fake.Now()))
		updated <- next
	}()
	select {
	case next := <-updated:
		m = next.(Model)
	case <-time.After(2 * time.Second):
		t.Fatal("Update blocked on a slow sink")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, isQuit := cmd().(tea.QuitMsg)
	assert.True(t, isQuit)
}

func TestModel_QuitKeys(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	model, sched, fake := newFixture(t)

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		m := NewModel(sched, model.Snapshot(), fake, nil)
		next, cmd := m.Update(key)
		require.NotNil(t, cmd, key.String())
		_, isQuit := cmd().(tea.QuitMsg)
		assert.True(t, isQuit, key.String())
		assert.Empty(t, next.(Model).View())
	}

	m := NewModel(sched, model.Snapshot(), fake, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	assert.Nil(t, cmd)
}

func TestModel_WindowSize(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	model, sched, fake := newFixture(t)

	next, cmd := NewModel(sched, model.Snapshot(), fake, nil).Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	assert.Nil(t, cmd)
	assert.Equal(t, 80, next.(Model).width)
}

func TestPlainRenderer(t *testing.T) {
	testutil.ResetRegistryForTest(t)
	model, _, _ := newFixture(t)

	var out bytes.Buffer
	renderer := NewPlainRenderer(&out)
	require.NoError(t, renderer.Render(model.Snapshot()))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "* Austin"), lines[0])
	assert.Contains(t, lines[0], "14:00")
	assert.Contains(t, lines[0], "home")
	assert.True(t, strings.HasPrefix(lines[2], "  London"), lines[2])
	assert.Contains(t, lines[2], "20:00")
	assert.Contains(t, lines[2], "Δ +6 hours")
	assert.Contains(t, lines[2], "Europe/London")

	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.Redraws.WithLabelValues("plain")))
}

func TestWriteTable_AlignsColumns(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, WriteTable(&out, worldclock.Snapshot{Entries: []worldclock.Entry{
		{Name: "NYC", DisplayTime: "15:00", DiffHours: intPtr(1), ZoneLabel: "America/New_York"},
		{Name: "Bucharest", DisplayTime: "22:00", DiffHours: intPtr(8), ZoneLabel: "Europe/Bucharest"},
	}}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	// Both rows carry one "Δ", so byte offsets line up like columns.
	assert.Equal(t, strings.Index(lines[0], "15:00"), strings.Index(lines[1], "22:00"))
	assert.Equal(t, strings.Index(lines[0], "America/New_York"), strings.Index(lines[1], "Europe/Bucharest"))
	assert.NotContains(t, out.String(), "│", "plain output has no borders")
	assert.True(t, strings.HasSuffix(out.String(), "\n\n"))
}

func TestWriteTable_MarksFallback(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, WriteTable(&out, worldclock.Snapshot{Entries: []worldclock.Entry{
		{Name: "Mars", DisplayTime: "09:00", ZoneLabel: "Not/AZone", Fallback: true},
	}}))
	assert.Contains(t, out.String(), "Not/AZone (local time)")
}
