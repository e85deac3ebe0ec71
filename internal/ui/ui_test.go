package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/groundskeeper/internal/daemon"
	"github.com/marcus/groundskeeper/internal/gateway"
)

func TestApplyEventUpdatesState(t *testing.T) {
	m := *New()

	m = m.applyEvent(daemon.Event{
		Type: daemon.EventStateChanged,
		Time: time.Now(),
		Data: map[string]any{"state": string(daemon.StateRunning)},
	})
	if m.daemonState != daemon.StateRunning {
		t.Errorf("daemonState = %s, want running", m.daemonState)
	}

	m = m.applyEvent(daemon.Event{Type: daemon.EventCycleStarted, CycleID: "cycle-1", Time: time.Now()})
	if m.currentCycle != "cycle-1" {
		t.Errorf("currentCycle = %q", m.currentCycle)
	}

	m = m.applyEvent(daemon.Event{Type: daemon.EventCycleFinished, CycleID: "cycle-1", Time: time.Now()})
	if m.cyclesRun != 1 {
		t.Errorf("cyclesRun = %d, want 1", m.cyclesRun)
	}
	if m.currentCycle != "" {
		t.Error("currentCycle should clear when the cycle finishes")
	}
	if len(m.events) != 3 {
		t.Errorf("event feed has %d entries, want 3", len(m.events))
	}
}

func TestViewShowsStatus(t *testing.T) {
	m := *New()
	m.daemonState = daemon.StateRunning
	m.health = gateway.ServiceHealth{Status: gateway.StatusHealthy, CircuitState: gateway.CircuitClosed}
	m.lastResult = &daemon.CycleResult{
		TasksDiscovered: 3,
		TasksCompleted:  2,
		TasksFailed:     1,
		PRsMerged:       2,
	}

	view := m.View()
	for _, want := range []string{"Groundskeeper", "running", "healthy", "3 discovered, 2 completed, 1 failed, 2 merged"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewEmptyEventFeed(t *testing.T) {
	view := New().View()
	if !strings.Contains(view, "No events yet") {
		t.Error("empty feed placeholder missing")
	}
}

func TestQuitKey(t *testing.T) {
	m := *New()
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should produce a quit command")
	}
	if !updated.(Model).quitting {
		t.Error("q should set quitting")
	}
}

func TestTabSwitchesPanel(t *testing.T) {
	m := *New()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if updated.(Model).activePanel != PanelEvents {
		t.Error("tab should switch to the events panel")
	}
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyTab})
	if updated.(Model).activePanel != PanelStatus {
		t.Error("tab should cycle back to the status panel")
	}
}

func TestWindowResize(t *testing.T) {
	m := *New()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	got := updated.(Model)
	if got.width != 120 || got.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", got.width, got.height)
	}
}

func TestEventFeedFollowsTail(t *testing.T) {
	m := *New()
	for i := 0; i < 5; i++ {
		m = m.applyEvent(daemon.Event{Type: daemon.EventWorkerDone, Time: time.Now(), Message: "done"})
	}
	if m.eventScroll != len(m.events)-1 {
		t.Errorf("eventScroll = %d, want tail %d", m.eventScroll, len(m.events)-1)
	}
}
