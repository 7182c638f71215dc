// Package tui is the terminal browser over stored pairing runs.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/orchestrator"
	"github.com/mpataki/tandem/internal/protocol"
	"github.com/mpataki/tandem/internal/workspace"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewJournal
)

// Store is the read side of the run database.
type Store interface {
	ListRuns(limit int) ([]*models.Run, error)
	GetRun(id int64) (*models.Run, error)
	GetRounds(runID int64) ([]models.RoundResult, error)
	GetJournal(runID int64) ([]models.JournalEntry, error)
}

// DeleteFunc removes a run together with its workspace.
type DeleteFunc func(id int64) error

const listLimit = 20

type App struct {
	store  Store
	delete DeleteFunc

	view        View
	runs        []*models.Run
	selectedIdx int
	selectedRun *models.Run
	rounds      []models.RoundResult
	summary     *models.RunSummary
	journal     viewport.Model

	width  int
	height int
	err    error
}

func NewApp(store Store, del DeleteFunc) *App {
	return &App{
		store:   store,
		delete:  del,
		view:    ViewRunList,
		journal: viewport.New(80, 20),
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
		a.journal.Width = max(20, msg.Width-2)
		a.journal.Height = max(5, msg.Height-4)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(0, len(a.runs)-1)
		}
		return a, nil

	case tickMsg:
		// The live driver column only moves while a run is in progress.
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selectedRun = msg.run
			a.rounds = msg.rounds
			a.summary = msg.summary
			a.view = ViewRunDetail
		}
		return a, nil

	case journalLoadedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.journal.SetContent(renderJournal(msg.entries))
			a.journal.GotoTop()
			a.view = ViewJournal
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewJournal:
		return a.handleJournalKey(msg)
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
		if run := a.currentRun(); run != nil && a.delete != nil && run.Status != models.RunStatusRunning {
			return a, a.deleteRun(run.ID)
		}
	}

	return a, nil
}

func (a *App) currentRun() *models.Run {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.runs) {
		return nil
	}
	return a.runs[a.selectedIdx]
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunList
		a.selectedRun = nil
		a.rounds = nil
		a.summary = nil

	case "ctrl+c":
		return a, tea.Quit

	case "j", "enter":
		if a.selectedRun != nil {
			return a, a.loadJournal(a.selectedRun.ID)
		}
	}

	return a, nil
}

func (a *App) handleJournalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewRunDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit

	case "g":
		a.journal.GotoTop()
		return a, nil

	case "G":
		a.journal.GotoBottom()
		return a, nil
	}

	var cmd tea.Cmd
	a.journal, cmd = a.journal.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewJournal:
		return a.viewJournal()
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

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	verdictApproved = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	verdictMoreWork = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("Tandem") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with `tandem run <task>`.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status != models.RunStatusRunning {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatRunLine(run *models.Run) string {
	status := formatStatus(run.Status)
	age := formatAge(run.CreatedAt)
	driver := "-"
	if run.CurrentDriver != "" {
		driver = run.CurrentDriver
	}
	return fmt.Sprintf("#%-3d %-14s %s  %-6s  %s  %s",
		run.ID, truncate(run.ProfileName, 14), status, age, driver, truncate(run.Task, 35))
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd", days)
	}
}

func formatStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running")
	case models.RunStatusCompleted:
		return statusComplete.Render("✓ completed")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed")
	case models.RunStatusPending:
		return statusPending.Render("○ pending")
	default:
		return string(status)
	}
}

func formatVerdict(v string) string {
	switch models.Verdict(v) {
	case models.VerdictApproved:
		return verdictApproved.Render(v)
	case models.VerdictNeedsMoreWork:
		return verdictMoreWork.Render(v)
	default:
		return v
	}
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}

	run := a.selectedRun

	header := fmt.Sprintf("Run #%d: %s (%s)", run.ID, run.ProfileName, run.Strategy)
	s := titleStyle.Render(header) + "  " + formatStatus(run.Status) + "\n\n"

	s += run.Task + "\n\n"

	s += labelStyle.Render("Workspace: ") + dimStyle.Render(run.WorkspacePath) + "\n"
	if run.EventsPath != "" {
		s += labelStyle.Render("Events:    ") + dimStyle.Render(run.EventsPath) + "\n"
	}
	if run.Verdict != "" {
		s += labelStyle.Render("Verdict:   ") + formatVerdict(run.Verdict) + "\n"
	}
	if run.Error != "" {
		s += labelStyle.Render("Error:     ") + statusFailed.Render(run.Error) + "\n"
	}
	s += "\n"

	s += "Rounds\n"
	s += "──────\n"

	if len(a.rounds) == 0 {
		s += "(no rounds recorded)\n"
	} else {
		for _, r := range a.rounds {
			s += "  " + formatRoundLine(r) + "\n"
		}
	}

	if a.summary != nil {
		s += "\n" + formatSummary(*a.summary)
	}

	s += "\n" + helpStyle.Render("[j] journal  [esc] back")

	return s
}

func formatRoundLine(r models.RoundResult) string {
	status := statusRunning.Render(string(r.Report.Status))
	if r.Report.Status == models.StatusDone {
		status = statusComplete.Render(string(r.Report.Status))
	}
	decision := "-"
	if r.Decision != nil {
		decision = string(r.Decision.Decision)
	}
	feedback := "no feedback"
	if r.Review.HasFeedback {
		feedback = "feedback"
	}
	return fmt.Sprintf("%2d. driver %s / nav %s  %-8s  cp:%d  edits:%d  %6s  %-11s  %s",
		r.Round, r.Driver, r.Navigator, status, r.CheckpointCount, r.EditWriteCallCount,
		formatBytes(r.EstimatedWrittenBytes), feedback, decision)
}

func formatSummary(sum models.RunSummary) string {
	s := fmt.Sprintf("%s %d checkpoints, %d swaps, %s written\n",
		labelStyle.Render("Summary:"), sum.TotalCheckpoints, sum.TotalSwaps, formatBytes(sum.TotalEstimatedBytes))
	for _, id := range []models.AgentID{models.AgentA, models.AgentB} {
		c, ok := sum.Contributions[id]
		if !ok {
			continue
		}
		s += fmt.Sprintf("  %s  %5.1f%%  rounds:%d  tools:%d  %s\n",
			id, c.RoughCodeSharePercent, c.RoundsDriven, c.ToolCalls, formatBytes(c.EstimatedBytes))
	}
	return s
}

func (a *App) viewJournal() string {
	title := "Journal"
	if a.selectedRun != nil {
		title = fmt.Sprintf("Journal: run #%d", a.selectedRun.ID)
	}
	return titleStyle.Render(title) + "\n" +
		a.journal.View() + "\n" +
		helpStyle.Render(fmt.Sprintf("[↑/↓] scroll  [g/G] top/bottom  [esc] back  %3.f%%", a.journal.ScrollPercent()*100))
}

func renderJournal(entries []models.JournalEntry) string {
	if len(entries) == 0 {
		return "(journal is empty)"
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(dimStyle.Render(e.Timestamp.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(protocol.RenderEntry(e))
		b.WriteString("\n\n")
	}
	return b.String()
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run     *models.Run
	rounds  []models.RoundResult
	summary *models.RunSummary
	err     error
}

type journalLoadedMsg struct {
	entries []models.JournalEntry
	err     error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.store.ListRuns(listLimit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.store.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}

		rounds, err := a.store.GetRounds(id)
		if err != nil {
			return runDetailMsg{err: err}
		}
		return runDetailMsg{run: run, rounds: rounds, summary: runSummary(run, rounds)}
	}
}

// runSummary prefers the artifact's summary, which knows the swap count, and
// falls back to recomputing shares from the stored rounds.
func runSummary(run *models.Run, rounds []models.RoundResult) *models.RunSummary {
	if run.ArtifactPath != "" {
		if result, err := workspace.ReadArtifact(run.ArtifactPath); err == nil {
			return &result.Summary
		}
	}
	if len(rounds) == 0 {
		return nil
	}
	sum := orchestrator.Summarize(rounds, 0)
	return &sum
}

func (a *App) loadJournal(id int64) tea.Cmd {
	return func() tea.Msg {
		entries, err := a.store.GetJournal(id)
		return journalLoadedMsg{entries: entries, err: err}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.delete(id); err != nil {
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

func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/(1024*1024))
	}
}
