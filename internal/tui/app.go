// Package tui provides the terminal user interface for procflow runs.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/procflow-ai/procflow/internal/elaborate"
	"github.com/procflow-ai/procflow/pkg/models"
)

// EventMsg wraps a scheduler event for the TUI.
type EventMsg struct {
	Event elaborate.Event
}

// RunDoneMsg signals that the run has completed.
type RunDoneMsg struct {
	Tree *models.Tree
	Err  error
}

// row is the display state of one node.
type row struct {
	id      string
	title   string
	status  models.NodeStatus
	attempt int
	cached  bool
	detail  string
}

// App is the main bubbletea model for a procflow run.
type App struct {
	// spinner animates in-flight rows.
	spinner spinner.Model
	// rows lists nodes in first-seen order.
	rows []*row
	// index maps node id to its row.
	index map[string]*row
	// cancel stops the underlying run when the user quits early.
	cancel func()
	// width is the terminal width.
	width int
	// done indicates the run has completed.
	done bool
	// failedRun holds the run-level error message, if any.
	failedRun string
	// quitting indicates the app is shutting down.
	quitting bool

	doneCount   int
	failedCount int
	cacheHits   int
	retries     int
}

// New creates a new App. cancel is invoked when the user aborts the run.
func New(cancel func()) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return &App{
		spinner: sp,
		index:   make(map[string]*row),
		cancel:  cancel,
		width:   80,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if a.done {
				a.quitting = true
				return a, tea.Quit
			}
			if a.cancel != nil {
				a.cancel()
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.apply(msg.Event)

	case RunDoneMsg:
		a.done = true
		if msg.Err != nil {
			a.failedRun = msg.Err.Error()
		}
		a.quitting = true
		return a, tea.Quit
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	out := titleStyle.Render("procflow") + " " + subtitleStyle.Render("elaborating processes") + "\n\n"

	for _, r := range a.rows {
		out += a.viewRow(r) + "\n"
	}

	out += "\n" + a.viewFooter() + "\n"
	return out
}

func (a *App) viewRow(r *row) string {
	var marker, note string
	switch r.status {
	case models.StatusElaborating:
		marker = a.spinner.View()
		if r.attempt > 0 {
			note = retryStyle.Render(fmt.Sprintf("retry %d", r.attempt))
		}
	case models.StatusDone:
		marker = doneStyle.Render("✓")
		if r.cached {
			note = cachedStyle.Render("cached")
		}
	case models.StatusFailed:
		marker = failedStyle.Render("✗")
		note = failedStyle.Render(truncate(r.detail, 48))
	default:
		marker = pendingStyle.Render("·")
	}

	line := fmt.Sprintf("  %s %s", marker, truncate(r.title, a.width-16))
	if note != "" {
		line += "  " + note
	}
	return line
}

func (a *App) viewFooter() string {
	if a.done {
		return ""
	}
	status := fmt.Sprintf("%d done · %d failed", a.doneCount, a.failedCount)
	if a.cacheHits > 0 {
		status += fmt.Sprintf(" · %d cached", a.cacheHits)
	}
	if a.retries > 0 {
		status += fmt.Sprintf(" · %d retries", a.retries)
	}
	return footerStyle.Render(status + "  |  q to cancel")
}

// apply folds a scheduler event into display state.
func (a *App) apply(ev elaborate.Event) {
	if ev.Type == elaborate.EventRunDone {
		return
	}

	r := a.index[ev.NodeID]
	if r == nil {
		r = &row{id: ev.NodeID, title: ev.Title, status: models.StatusPending}
		a.index[ev.NodeID] = r
		a.rows = append(a.rows, r)
	}

	switch ev.Type {
	case elaborate.EventStarted:
		r.status = models.StatusElaborating
	case elaborate.EventRetry:
		r.status = models.StatusElaborating
		r.attempt = ev.Attempt
		a.retries++
	case elaborate.EventCacheHit:
		r.status = models.StatusDone
		r.cached = true
		a.doneCount++
		a.cacheHits++
	case elaborate.EventDone:
		r.status = models.StatusDone
		a.doneCount++
	case elaborate.EventFailed:
		r.status = models.StatusFailed
		r.detail = ev.Err
		a.failedCount++
	}
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// NewProgram creates a Bubbletea program for a run. The returned program
// receives EventMsg and RunDoneMsg via Send().
func NewProgram(cancel func()) (*tea.Program, *App) {
	app := New(cancel)
	p := tea.NewProgram(app)
	return p, app
}
