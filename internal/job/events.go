package job

import "time"

// EventType distinguishes progress lines from the job's terminal outcome.
type EventType string

const (
	EventTypeLog       EventType = "log"
	EventTypeSucceeded EventType = "succeeded"
	EventTypeFailed    EventType = "failed"
	EventTypeCancelled EventType = "cancelled"
)

// Terminal reports whether the event type ends the job's event stream. A
// supervisor emits exactly one terminal event and closes the stream after it.
func (t EventType) Terminal() bool {
	return t != EventTypeLog
}

// Event is a single progress line or the job's terminal outcome.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Message   string
	Source    string
	Level     string
}

// State tracks a job's lifecycle. Transitions are monotonic forward; no state
// is revisited.
type State int32

const (
	StateLaunching State = iota
	StateRunning
	StateCancelling
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
