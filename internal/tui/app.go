package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/storage"
)

// RunSource is the run history the browser reads from. The orchestrator
// satisfies it.
type RunSource interface {
	ListRuns(limit int) ([]*models.Run, error)
	GetRun(id int64) (*models.Run, error)
	GetExecutionsForRun(runID int64) ([]*models.Execution, error)
	DeleteRun(runID int64) error
}

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewRecord
)

const listLimit = 20

type App struct {
	source RunSource

	view            View
	runs            []*models.Run
	selectedIdx     int
	selectedRun     *models.Run
	executions      []*models.Execution
	selectedExecIdx int
	record          viewport.Model

	width  int
	height int
	err    error
}

func NewApp(source RunSource) *App {
	return &App{
		source: source,
		view:   ViewRunList,
		record: viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, run := range a.runs {
		if run.Status == models.RunStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.record.Width = msg.Width
		a.record.Height = max(msg.Height-4, 1)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case tickMsg:
		// Refresh while a run in another process is still going.
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.selectedRun = msg.run
		a.executions = msg.executions
		a.err = msg.err
		if a.err == nil {
			a.selectedExecIdx = 0
			a.view = ViewRunDetail
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	if a.view == ViewRecord {
		var cmd tea.Cmd
		a.record, cmd = a.record.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewRecord:
		return a.handleRecordKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if run := a.currentRun(); run != nil {
			return a, a.loadRunDetail(run.ID)
		}

	case "r":
		return a, a.loadRuns

	case "d":
		if run := a.currentRun(); run != nil {
			return a, a.deleteRun(run.ID)
		}
	}

	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.executions = nil
		a.selectedExecIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedExecIdx > 0 {
			a.selectedExecIdx--
		}

	case "down", "j":
		if a.selectedExecIdx < len(a.executions)-1 {
			a.selectedExecIdx++
		}

	case "enter", "o":
		if a.selectedExecIdx < len(a.executions) {
			a.record.SetContent(renderExecution(a.executions[a.selectedExecIdx]))
			a.record.GotoTop()
			a.view = ViewRecord
		}
	}

	return a, nil
}

func (a *App) handleRecordKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.record, cmd = a.record.Update(msg)
	return a, cmd
}

func (a *App) currentRun() *models.Run {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.runs) {
		return nil
	}
	return a.runs[a.selectedIdx]
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewRecord:
		return a.viewRecord()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	fallbackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("JeevanSetu") + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with 'jeevansetu run'.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := formatRunLine(run)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case run.Status == models.RunStatusRunning:
				line = "  " + line
			default:
				line = "  " + dimStyle.Render(line)
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatRunLine(run *models.Run) string {
	status := formatStatus(run.Status)
	age := storage.FormatTimeAgo(run.CreatedAt)
	hospital := truncate(run.Hospital(), 28)
	line := fmt.Sprintf("#%-3d %-28s %s  %-8s", run.ID, hospital, status, age)
	if run.ReplayOf != nil {
		line += dimStyle.Render(fmt.Sprintf("  replay of #%d", *run.ReplayOf))
	}
	return line
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running  ")
	case models.RunStatusSucceeded:
		return statusSucceeded.Render("✓ succeeded")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed   ")
	case models.RunStatusCancelled:
		return statusCancelled.Render("⊘ cancelled")
	default:
		return fmt.Sprintf("%-11s", status)
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}

	run := a.selectedRun

	header := fmt.Sprintf("Run #%d: %s", run.ID, run.Hospital())
	s := titleStyle.Render(header) + "  " + formatStatus(run.Status) + "\n\n"

	s += labelStyle.Render("Region: ") + run.Inputs["region"] + "\n"
	s += labelStyle.Render("Administrator: ") + run.Inputs["administrator_name"] + "\n"
	if run.ResultPath != "" {
		s += labelStyle.Render("Result: ") + dimStyle.Render(run.ResultPath) + "\n"
	}
	if run.Error != "" {
		s += labelStyle.Render("Error: ") + statusFailed.Render(run.Error) + "\n"
	}
	s += "\n"

	s += "Tasks\n"
	s += "─────\n"

	if len(a.executions) == 0 {
		s += "(no tasks yet)\n"
	} else {
		for i, exec := range a.executions {
			line := formatExecLine(exec)
			if i == a.selectedExecIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] record  [esc] back  [q] quit")

	return s
}

func formatExecLine(exec *models.Execution) string {
	status := "○"
	switch exec.Status {
	case models.ExecStatusSucceeded:
		status = statusSucceeded.Render("✓")
	case models.ExecStatusRunning:
		status = statusRunning.Render("●")
	case models.ExecStatusFailed:
		status = statusFailed.Render("✗")
	}

	duration := ""
	if exec.StartedAt != nil && exec.CompletedAt != nil {
		duration = dimStyle.Render(formatDuration(exec.CompletedAt.Sub(*exec.StartedAt)))
	} else if exec.StartedAt != nil && exec.Status == models.ExecStatusRunning {
		duration = statusRunning.Render(formatDuration(time.Since(*exec.StartedAt)) + "...")
	}

	// "1. festival_forecast  ✓  x2  12s  fallback"
	line := fmt.Sprintf("%d. %-22s %s", exec.SequenceNum, exec.TaskID, status)
	if exec.Attempts > 1 {
		line += "  " + dimStyle.Render(fmt.Sprintf("x%d", exec.Attempts))
	}
	if duration != "" {
		line += "  " + fmt.Sprintf("%6s", duration)
	}
	if exec.UsedFallback {
		line += "  " + fallbackStyle.Render("fallback")
	}
	return line
}

func (a *App) viewRecord() string {
	title := "Record"
	if a.selectedExecIdx < len(a.executions) {
		title = a.executions[a.selectedExecIdx].TaskID
	}
	s := titleStyle.Render(title) + "\n\n"
	s += a.record.View() + "\n"
	s += helpStyle.Render(fmt.Sprintf("[↑/↓] scroll  [esc] back  %3.f%%", a.record.ScrollPercent()*100))
	return s
}

// renderExecution is the record viewer content for one task.
func renderExecution(exec *models.Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent:    %s\n", exec.AgentRole)
	fmt.Fprintf(&b, "status:   %s\n", exec.Status)
	fmt.Fprintf(&b, "attempts: %d\n", exec.Attempts)
	if exec.UsedFallback {
		b.WriteString("fallback: yes\n")
	}
	if exec.Error != "" {
		fmt.Fprintf(&b, "error:    %s\n", exec.Error)
	}
	b.WriteString("\n")

	if exec.Record == nil {
		b.WriteString("(no record)\n")
		return b.String()
	}
	b.WriteString(exec.Record.Summary())
	b.WriteString("\n\n")
	data, err := json.MarshalIndent(exec.Record.Payload(), "", "  ")
	if err != nil {
		fmt.Fprintf(&b, "(unrenderable record: %v)\n", err)
		return b.String()
	}
	b.Write(data)
	b.WriteString("\n")
	if len(exec.Record.Repaired) > 0 {
		fmt.Fprintf(&b, "\nfilled from defaults: %s\n", strings.Join(exec.Record.Repaired, ", "))
	}
	return b.String()
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run        *models.Run
	executions []*models.Execution
	err        error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.source.ListRuns(listLimit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.source.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		execs, err := a.source.GetExecutionsForRun(id)
		return runDetailMsg{run: run, executions: execs, err: err}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.source.DeleteRun(id); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: id}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
