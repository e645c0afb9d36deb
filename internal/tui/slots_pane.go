package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/storyloop/internal/events"
)

const activityScrollback = 200

type activeSlot struct {
	storyID   string
	title     string
	startedAt time.Time
}

// SlotsPaneModel shows the occupied worker slots and a scrollable log of
// recent story activity.
type SlotsPaneModel struct {
	active   map[int]activeSlot
	activity []string
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewSlotsPaneModel creates a new slots pane model.
func NewSlotsPaneModel() SlotsPaneModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleRunning
	return SlotsPaneModel{
		active:   make(map[int]activeSlot),
		spinner:  sp,
		viewport: viewport.New(0, 0),
	}
}

// Init starts the spinner tick loop.
func (m SlotsPaneModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the slots pane.
func (m SlotsPaneModel) Update(msg tea.Msg) (SlotsPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyJ, KeyDown:
			m.viewport.LineDown(1)
		case KeyK, KeyUp:
			m.viewport.LineUp(1)
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)

	case events.StoryDispatchedEvent:
		m.active[msg.Slot] = activeSlot{storyID: msg.ID, title: msg.Title, startedAt: msg.Timestamp}
		m.appendActivity(StylePending.Render("->") + fmt.Sprintf(" %s dispatched to slot %d", msg.ID, msg.Slot))

	case events.StoryCompletedEvent:
		delete(m.active, msg.Slot)
		m.appendActivity(StyleCompleted.Render("ok") + fmt.Sprintf(" %s completed in %s", msg.ID, msg.Duration.Round(time.Second)))

	case events.StoryFailedEvent:
		delete(m.active, msg.Slot)
		m.appendActivity(StyleFailed.Render("!!") + fmt.Sprintf(" %s failed: %s", msg.ID, msg.Reason))

	case events.StoryRetriedEvent:
		delete(m.active, msg.Slot)
		m.appendActivity(StyleRetried.Render("~~") + fmt.Sprintf(" %s back to pending: %s", msg.ID, msg.Reason))
	}

	return m, cmd
}

func (m *SlotsPaneModel) appendActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > activityScrollback {
		m.activity = m.activity[len(m.activity)-activityScrollback:]
	}
	m.viewport.SetContent(strings.Join(m.activity, "\n"))
	m.viewport.GotoBottom()
}

// View renders the slots pane.
func (m SlotsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Workers"))
	b.WriteString("\n")

	if len(m.active) == 0 {
		b.WriteString(StylePending.Render("  no workers running"))
		b.WriteString("\n")
	} else {
		slots := make([]int, 0, len(m.active))
		for id := range m.active {
			slots = append(slots, id)
		}
		sort.Ints(slots)
		for _, id := range slots {
			a := m.active[id]
			title := a.title
			if title == "" {
				title = a.storyID
			}
			b.WriteString(fmt.Sprintf("  %s slot %d  %s  %s\n",
				m.spinner.View(), id, a.storyID, truncate(title, m.width-20)))
		}
	}

	b.WriteString("\n")
	b.WriteString(StyleTitle.Render("Activity"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *SlotsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// Slot list and titles take the top of the pane, the rest scrolls.
	logHeight := h - 10
	if logHeight < 3 {
		logHeight = 3
	}
	m.viewport.Width = w - 4
	m.viewport.Height = logHeight
}

// SetFocused updates the focus state.
func (m *SlotsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
