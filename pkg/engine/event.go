package engine

import "fmt"

// Pipeline states, in order of progression. Closed is terminal.
type State int

const (
	Unrealized State = iota
	Configuring
	Configured
	Realizing
	Realized
	Prefetched
	Started
	Closed
)

func (s State) String() string {
	switch s {
	case Unrealized:
		return "unrealized"
	case Configuring:
		return "configuring"
	case Configured:
		return "configured"
	case Realizing:
		return "realizing"
	case Realized:
		return "realized"
	case Prefetched:
		return "prefetched"
	case Started:
		return "started"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AtLeast reports whether s has progressed to target without being closed.
func (s State) AtLeast(target State) bool {
	return s != Closed && s >= target
}

type EventKind int

const (
	EventConfigureComplete EventKind = iota + 1
	EventRealizeComplete
	EventStarted
	EventStopped
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConfigureComplete:
		return "configure-complete"
	case EventRealizeComplete:
		return "realize-complete"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// A pipeline state change.
//
// Expected is only meaningful for EventClosed: it is false when the engine
// closed the pipeline without being asked to. Err is set for EventError.
type Event struct {
	Kind     EventKind
	Source   Pipeline
	Expected bool
	Err      error
}
