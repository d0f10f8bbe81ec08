// Package tui provides the live terminal dashboard for warren runs.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/warrenlabs/warren/internal/epic"
	"github.com/warrenlabs/warren/pkg/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	epicStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// eventMsg wraps one coordinator event for the bubbletea loop.
type eventMsg epic.Event

// streamClosedMsg signals that the emitter's channel was closed: the run is
// over and the dashboard can exit.
type streamClosedMsg struct{}

// row is one sub-task's line on the dashboard.
type row struct {
	epicID     string
	subTaskID  string
	agentID    string
	branchName string
	status     models.SubIssueStatus
	message    string
}

// App is the bubbletea model for the run dashboard. It consumes the
// coordinator's event stream and renders one line per sub-task.
type App struct {
	events <-chan epic.Event

	spinner spinner.Model
	rows    []*row
	index   map[string]*row
	epics   map[string]string

	width    int
	done     bool
	quitting bool
}

// New creates a dashboard reading from the given event channel. The run ends
// when the channel closes.
func New(events <-chan epic.Event) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle
	return &App{
		events:  events,
		spinner: sp,
		index:   make(map[string]*row),
		epics:   make(map[string]string),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.waitForEvent())
}

// waitForEvent blocks on the next coordinator event.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case eventMsg:
		a.apply(epic.Event(msg))
		return a, a.waitForEvent()

	case streamClosedMsg:
		a.done = true
		return a, tea.Quit
	}

	return a, nil
}

// apply folds one coordinator event into the dashboard state.
func (a *App) apply(ev epic.Event) {
	if ev.Type == epic.EventEpicRegistered {
		a.epics[ev.EpicID] = ev.Message
		return
	}
	if ev.SubTaskID == "" {
		return
	}

	key := ev.EpicID + "/" + ev.SubTaskID
	r, ok := a.index[key]
	if !ok {
		r = &row{epicID: ev.EpicID, subTaskID: ev.SubTaskID, status: models.StatusPending}
		a.index[key] = r
		a.rows = append(a.rows, r)
	}
	if ev.AgentID != "" {
		r.agentID = ev.AgentID
	}
	if ev.BranchName != "" {
		r.branchName = ev.BranchName
	}
	if ev.Status != "" {
		r.status = ev.Status
	}
	if ev.Type == epic.EventSubTaskFailed {
		r.message = ev.Message
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("warren"))
	sb.WriteString("\n\n")

	lastEpic := ""
	for _, r := range a.rows {
		if r.epicID != lastEpic {
			lastEpic = r.epicID
			title := a.epics[r.epicID]
			if title == "" {
				title = r.epicID
			}
			sb.WriteString(epicStyle.Render(fmt.Sprintf("%s (%s)", title, r.epicID)))
			sb.WriteString("\n")
		}
		sb.WriteString(a.renderRow(r))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(a.footer())
	sb.WriteString("\n")
	return sb.String()
}

func (a *App) renderRow(r *row) string {
	var marker string
	switch r.status {
	case models.StatusInProgress:
		marker = a.spinner.View()
	case models.StatusCompleted:
		marker = doneStyle.Render("✓")
	case models.StatusFailed:
		marker = failStyle.Render("✗")
	default:
		marker = pendingStyle.Render("·")
	}

	line := fmt.Sprintf("  %s %-16s %s", marker, r.subTaskID, statusLabel(r.status))
	if r.branchName != "" {
		line += dimStyle.Render("  " + r.branchName)
	}
	if r.message != "" {
		line += "  " + failStyle.Render(truncate(r.message, 60))
	}
	return line
}

func (a *App) footer() string {
	var completed, failed int
	for _, r := range a.rows {
		switch r.status {
		case models.StatusCompleted:
			completed++
		case models.StatusFailed:
			failed++
		}
	}
	total := len(a.rows)

	ratio := fmt.Sprintf("%d/%d completed", completed, total)
	if failed > 0 {
		ratio += failStyle.Render(fmt.Sprintf(", %d failed", failed))
	}
	if a.done {
		return doneStyle.Render("run finished  ") + ratio
	}
	return a.spinner.View() + " running  " + ratio + dimStyle.Render("  (q to quit)")
}

// statusLabel renders a status with its color.
func statusLabel(s models.SubIssueStatus) string {
	switch s {
	case models.StatusInProgress:
		return runningStyle.Render(string(s))
	case models.StatusCompleted:
		return doneStyle.Render(string(s))
	case models.StatusFailed:
		return failStyle.Render(string(s))
	default:
		return pendingStyle.Render(string(s))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Run drives the dashboard until the event stream closes or the user quits.
func Run(events <-chan epic.Event) error {
	p := tea.NewProgram(New(events))
	_, err := p.Run()
	return err
}
