// Package ui provides a terminal UI for watching groundskeeper cycles
// live. Uses Bubbletea; the daemon feeds it events through a handler.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/groundskeeper/internal/daemon"
	"github.com/marcus/groundskeeper/internal/gateway"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStatus Panel = iota
	PanelEvents
)

// EventMsg wraps a daemon event for the bubbletea loop.
type EventMsg daemon.Event

// eventLine is one rendered row in the event feed.
type eventLine struct {
	Time    time.Time
	Type    daemon.EventType
	Message string
}

// Model holds the TUI state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	// Status panel
	daemonState  daemon.State
	health       gateway.ServiceHealth
	currentCycle string
	cyclesRun    int
	lastResult   *daemon.CycleResult

	// Event feed
	events      []eventLine
	eventScroll int

	progressTick int

	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title      lipgloss.Style
	Label      lipgloss.Style
	Value      lipgloss.Style
	Muted      lipgloss.Style
	StatusOK   lipgloss.Style
	StatusWarn lipgloss.Style
	StatusBad  lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().Foreground(subtle),
		Value: lipgloss.NewStyle().Bold(true),
		Muted: lipgloss.NewStyle().Foreground(subtle),

		StatusOK:   lipgloss.NewStyle().Foreground(green).Bold(true),
		StatusWarn: lipgloss.NewStyle().Foreground(yellow).Bold(true),
		StatusBad:  lipgloss.NewStyle().Foreground(red).Bold(true),

		HelpKey:  lipgloss.NewStyle().Foreground(highlight).Bold(true),
		HelpText: lipgloss.NewStyle().Foreground(subtle),
	}
}

// tickMsg drives the spinner.
type tickMsg time.Time

// New creates a new TUI model.
func New() *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelStatus,
		daemonState: daemon.StateIdle,
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.progressTick++
		return m, tickCmd()

	case EventMsg:
		return m.applyEvent(daemon.Event(msg)), nil
	}

	return m, nil
}

// applyEvent folds a daemon event into the model.
func (m Model) applyEvent(e daemon.Event) Model {
	switch e.Type {
	case daemon.EventStateChanged:
		if s, ok := e.Data["state"].(string); ok {
			m.daemonState = daemon.State(s)
		}
	case daemon.EventCycleStarted:
		m.currentCycle = e.CycleID
	case daemon.EventCycleFinished:
		m.cyclesRun++
		m.currentCycle = ""
	}

	m.events = append(m.events, eventLine{Time: e.Time, Type: e.Type, Message: e.Message})
	// Follow the tail unless the operator scrolled away.
	if m.eventScroll >= len(m.events)-2 {
		m.eventScroll = len(m.events) - 1
	}
	return m
}

// SetLastResult records the most recent cycle result for display.
func (m *Model) SetLastResult(result *daemon.CycleResult) {
	m.lastResult = result
}

// SetHealth records the latest service health for display.
func (m *Model) SetHealth(h gateway.ServiceHealth) {
	m.health = h
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l", "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 1) % 2
		return m, nil

	case "up", "k":
		if m.activePanel == PanelEvents && m.eventScroll > 0 {
			m.eventScroll--
		}
		return m, nil

	case "down", "j":
		if m.activePanel == PanelEvents && m.eventScroll < len(m.events)-1 {
			m.eventScroll++
		}
		return m, nil

	case "end", "G":
		if m.activePanel == PanelEvents && len(m.events) > 0 {
			m.eventScroll = len(m.events) - 1
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 3
	bottomHeight := m.height - topHeight - 3
	statusPanel := m.renderStatusPanel()
	eventPanel := m.renderEventPanel(bottomHeight - 4)

	statusBorder := m.getBorder(PanelStatus).Width(m.width - 2).Height(topHeight - 2)
	eventBorder := m.getBorder(PanelEvents).Width(m.width - 2).Height(bottomHeight - 2)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		statusBorder.Render(statusPanel),
		eventBorder.Render(eventPanel),
		m.renderHelpBar(),
	)
}

func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) renderStatusPanel() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Groundskeeper"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Daemon: "))
	b.WriteString(m.stateStyle().Render(string(m.daemonState)))
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Hosting API: "))
	b.WriteString(m.healthStyle().Render(string(m.health.Status)))
	if m.health.CircuitState != "" {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" (circuit %s)", m.health.CircuitState)))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Cycle: "))
	if m.currentCycle != "" {
		b.WriteString(m.styles.Value.Render(m.spinner() + " " + shortID(m.currentCycle)))
	} else {
		b.WriteString(m.styles.Muted.Render("between cycles"))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Cycles run: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d", m.cyclesRun)))
	b.WriteString("\n")

	if r := m.lastResult; r != nil {
		b.WriteString(m.styles.Label.Render("Last cycle: "))
		summary := fmt.Sprintf("%d discovered, %d completed, %d failed, %d merged",
			r.TasksDiscovered, r.TasksCompleted, r.TasksFailed, r.PRsMerged)
		b.WriteString(m.styles.Value.Render(summary))
		if r.Degraded {
			b.WriteString(m.styles.StatusWarn.Render("  degraded"))
		}
	}

	return b.String()
}

func (m Model) stateStyle() lipgloss.Style {
	switch m.daemonState {
	case daemon.StateRunning:
		return m.styles.StatusOK
	case daemon.StateStopped, daemon.StateStopping:
		return m.styles.StatusBad
	default:
		return m.styles.StatusWarn
	}
}

func (m Model) healthStyle() lipgloss.Style {
	switch m.health.Status {
	case gateway.StatusHealthy:
		return m.styles.StatusOK
	case gateway.StatusUnavailable:
		return m.styles.StatusBad
	default:
		return m.styles.StatusWarn
	}
}

func (m Model) renderEventPanel(visible int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Events"))
	b.WriteString("\n\n")

	if len(m.events) == 0 {
		b.WriteString(m.styles.Muted.Render("No events yet"))
		return b.String()
	}

	if visible < 1 {
		visible = 1
	}

	start := m.eventScroll - visible + 1
	if start < 0 {
		start = 0
	}

	for i := start; i < len(m.events) && i < start+visible; i++ {
		e := m.events[i]
		line := fmt.Sprintf("%s %s %s",
			m.styles.Muted.Render(e.Time.Format("15:04:05")),
			m.eventStyle(e.Type).Render(fmt.Sprintf("[%-14s]", e.Type)),
			e.Message,
		)
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.events) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.eventScroll+1, len(m.events))))
	}

	return b.String()
}

func (m Model) eventStyle(t daemon.EventType) lipgloss.Style {
	switch t {
	case daemon.EventCycleError:
		return m.styles.StatusBad
	case daemon.EventBranchMerged, daemon.EventCycleFinished:
		return m.styles.StatusOK
	default:
		return m.styles.Muted
	}
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "scroll"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run starts the TUI and blocks until quit.
func (m *Model) Run() error {
	p := tea.NewProgram(*m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Attach starts the TUI in the background and returns an event handler
// that feeds daemon events into it.
func (m *Model) Attach() (*tea.Program, daemon.EventHandler) {
	p := tea.NewProgram(*m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p, func(e daemon.Event) {
		p.Send(EventMsg(e))
	}
}
