// Package tui renders live run status with Bubble Tea: occupied worker
// slots, a scrolling activity log, and per-iteration progress counts.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/storyloop/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneSlots PaneID = iota
	PaneProgress
)

// Model is the root Bubble Tea model for a run.
type Model struct {
	slotsPane    SlotsPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	outcome      string
	userQuit     bool
}

// New creates the run status model. It subscribes to every topic on the
// bus; the scheduler keeps publishing whether or not anyone renders.
func New(bus *events.Bus) Model {
	return Model{
		slotsPane:    NewSlotsPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneSlots,
		eventSub:     bus.SubscribeAll(256),
	}
}

// UserQuit reports whether the user asked to stop the run from the TUI.
func (m Model) UserQuit() bool { return m.userQuit }

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.slotsPane.Init(), waitForEvent(m.eventSub))
}

// waitForEvent returns a command that delivers the next bus event as a
// message. A closed bus yields nil, which Bubble Tea ignores.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.userQuit = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneSlots {
				var cmd tea.Cmd
				m.slotsPane, cmd = m.slotsPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.RunFinishedEvent:
		m.outcome = msg.Outcome
		m.progressPane.completed = msg.Completed
		m.progressPane.total = msg.Total
		return m, tea.Quit

	case events.RunProgressEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.StoryDispatchedEvent, events.StoryCompletedEvent,
		events.StoryFailedEvent, events.StoryRetriedEvent:
		var cmd tea.Cmd
		m.slotsPane, cmd = m.slotsPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	default:
		// Spinner ticks and other component messages.
		var cmd tea.Cmd
		m.slotsPane, cmd = m.slotsPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.outcome != "" {
		return StyleOutcome.Render(fmt.Sprintf("Run finished: %s (%d/%d stories completed)",
			m.outcome, m.progressPane.completed, m.progressPane.total)) + "\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Starting run..."
	}

	left := m.slotsPane.View()
	right := m.progressPane.View()

	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView())
}

// computeLayout calculates pane dimensions and updates the child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.slotsPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of both panes.
func (m *Model) updateFocusStates() {
	m.slotsPane.SetFocused(m.focusedPane == PaneSlots)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
