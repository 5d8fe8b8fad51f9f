package channel

import "fmt"

type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type EventKind uint8

const (
	EventConnecting EventKind = iota
	EventConnected
	EventRetrying
	EventDisconnected
	EventFailed
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventRetrying:
		return "retrying"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	case EventStopped:
		return "stopped"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event reports a session transition.
type Event struct {
	Channel string
	Kind    EventKind
	State   State
	Attempt int
	Max     int
	// Restored is set on EventConnected after a failure or close since last successful connect.
	Restored bool
	Err      error
}

func (e Event) String() string {
	s := fmt.Sprintf("channel=%s event=%s state=%s", e.Channel, e.Kind, e.State)
	switch e.Kind {
	case EventRetrying:
		s += fmt.Sprintf(" attempt=%d/%d", e.Attempt, e.Max)
	case EventConnected:
		if e.Restored {
			s += " restored"
		}
	}
	if e.Err != nil {
		s += fmt.Sprintf(" err=%v", e.Err)
	}
	return s
}

// Status is a snapshot for display and liveness aggregation.
type Status struct {
	Channel    string
	URL        string
	Topic      string
	State      State
	Attempts   int
	Max        int
	TimerArmed bool
}

func (s Status) Connected() bool { return s.State == StateConnected }
