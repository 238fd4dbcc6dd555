package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/procflow-ai/procflow/internal/elaborate"
	"github.com/procflow-ai/procflow/pkg/models"
)

func event(typ elaborate.EventType, id, title string) EventMsg {
	return EventMsg{Event: elaborate.Event{Type: typ, NodeID: id, Title: title}}
}

func TestAppTracksNodeLifecycle(t *testing.T) {
	app := New(nil)

	app.Update(event(elaborate.EventStarted, "n1", "Pack Orders"))
	app.Update(event(elaborate.EventDone, "n1", "Pack Orders"))
	app.Update(event(elaborate.EventStarted, "n2", "Ship Orders"))
	app.Update(EventMsg{Event: elaborate.Event{Type: elaborate.EventFailed, NodeID: "n2", Title: "Ship Orders", Err: "retries exhausted"}})

	if len(app.rows) != 2 {
		t.Fatalf("row count = %d, want 2", len(app.rows))
	}
	if app.rows[0].status != models.StatusDone {
		t.Errorf("first row status = %s, want done", app.rows[0].status)
	}
	if app.rows[1].status != models.StatusFailed {
		t.Errorf("second row status = %s, want failed", app.rows[1].status)
	}
	if app.doneCount != 1 || app.failedCount != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", app.doneCount, app.failedCount)
	}

	view := app.View()
	if !strings.Contains(view, "Pack Orders") || !strings.Contains(view, "Ship Orders") {
		t.Errorf("view missing node titles:\n%s", view)
	}
	if !strings.Contains(view, "retries exhausted") {
		t.Errorf("view missing failure detail:\n%s", view)
	}
}

func TestAppCacheHitAndRetryCounters(t *testing.T) {
	app := New(nil)

	app.Update(event(elaborate.EventCacheHit, "n1", "Log Request"))
	app.Update(event(elaborate.EventStarted, "n2", "Triage"))
	app.Update(EventMsg{Event: elaborate.Event{Type: elaborate.EventRetry, NodeID: "n2", Title: "Triage", Attempt: 1, Err: "overloaded"}})

	if app.cacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", app.cacheHits)
	}
	if app.retries != 1 {
		t.Errorf("retries = %d, want 1", app.retries)
	}
	if app.rows[1].status != models.StatusElaborating {
		t.Errorf("retrying row status = %s, want elaborating", app.rows[1].status)
	}

	if !strings.Contains(app.View(), "1 cached") {
		t.Errorf("footer missing cache count:\n%s", app.View())
	}
}

func TestAppQuitCancelsRunningRun(t *testing.T) {
	cancelled := false
	app := New(func() { cancelled = true })

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd != nil {
		t.Error("expected no quit command while the run is active")
	}
	if !cancelled {
		t.Error("quit did not cancel the running run")
	}
}

func TestAppRunDoneQuits(t *testing.T) {
	app := New(nil)

	_, cmd := app.Update(RunDoneMsg{Err: errors.New("interrupted")})
	if cmd == nil {
		t.Fatal("expected quit command after run completion")
	}
	if !app.done || app.failedRun != "interrupted" {
		t.Errorf("done=%v failedRun=%q", app.done, app.failedRun)
	}
}
