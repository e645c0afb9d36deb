package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/storyloop/internal/events"
)

// ProgressPaneModel shows run-level story counts and a progress bar,
// refreshed once per scheduler iteration.
type ProgressPaneModel struct {
	iteration  int
	total      int
	completed  int
	failed     int
	inProgress int
	pending    int
	width      int
	height     int
	focused    bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	if ev, ok := msg.(events.RunProgressEvent); ok {
		m.iteration = ev.Iteration
		m.total = ev.Total
		m.completed = ev.Completed
		m.failed = ev.Failed
		m.inProgress = ev.InProgress
		m.pending = ev.Pending
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render(fmt.Sprintf("Run Progress (iteration %d)", m.iteration))
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:       %d\n", m.total))
	b.WriteString(fmt.Sprintf("Completed:   %s\n", StyleCompleted.Render(fmt.Sprintf("%d", m.completed))))
	b.WriteString(fmt.Sprintf("In progress: %s\n", StyleRunning.Render(fmt.Sprintf("%d", m.inProgress))))
	b.WriteString(fmt.Sprintf("Failed:      %s\n", StyleFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Pending:     %s\n", StylePending.Render(fmt.Sprintf("%d", m.pending))))

	b.WriteString("\n")

	if m.total > 0 {
		barWidth := minInt(m.width-6, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.inProgress * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleCompleted.Render(strings.Repeat("=", maxInt(0, completedWidth)))
		bar += StyleFailed.Render(strings.Repeat("!", maxInt(0, failedWidth)))
		bar += StyleRunning.Render(strings.Repeat("-", maxInt(0, runningWidth)))
		bar += StylePending.Render(strings.Repeat(".", maxInt(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.completed, m.total))
	}

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
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
