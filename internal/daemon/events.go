package daemon

import "time"

// EventType identifies a daemon lifecycle or cycle event.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventCycleStarted  EventType = "cycle_started"
	EventCycleFinished EventType = "cycle_finished"
	EventIssueCreated  EventType = "issue_created"
	EventWorkerDone    EventType = "worker_done"
	EventBranchMerged  EventType = "branch_merged"
	EventCycleError    EventType = "cycle_error"
)

// Event is a point-in-time notification from the daemon. Handlers
// receive events synchronously and must return quickly.
type Event struct {
	Type    EventType
	Time    time.Time
	CycleID string
	Message string
	Data    map[string]any
}

// EventHandler consumes daemon events, e.g. for a live UI.
type EventHandler func(Event)

func (d *Daemon) emit(eventType EventType, cycleID, message string, data map[string]any) {
	if d.handler == nil {
		return
	}
	d.handler(Event{
		Type:    eventType,
		Time:    time.Now(),
		CycleID: cycleID,
		Message: message,
		Data:    data,
	})
}
