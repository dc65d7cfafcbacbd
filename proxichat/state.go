package proxichat

// ConnState represents the state of the shared event channel.
type ConnState int

const (
	// StateDisconnected means no channel is open.
	StateDisconnected ConnState = iota

	// StateConnecting means the channel is being established.
	StateConnecting

	// StateConnected means the channel is open and ready.
	StateConnected
)

// String returns the string representation of a ConnState.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateEvent represents a connection state change.
type StateEvent struct {
	OldState ConnState
	NewState ConnState
	Err      error // optional cause
}

// SearchState is the coordinator state for one search attempt.
// Matched, TimedOut and Errored are terminal.
type SearchState int

const (
	SearchIdle SearchState = iota
	SearchRequestingPermission
	SearchAcquiringLocation
	SearchJoining
	SearchWaiting
	SearchMatched
	SearchTimedOut
	SearchErrored
)

// String returns the string representation of a SearchState.
func (s SearchState) String() string {
	switch s {
	case SearchIdle:
		return "idle"
	case SearchRequestingPermission:
		return "requesting-permission"
	case SearchAcquiringLocation:
		return "acquiring-location"
	case SearchJoining:
		return "joining"
	case SearchWaiting:
		return "waiting"
	case SearchMatched:
		return "matched"
	case SearchTimedOut:
		return "timed-out"
	case SearchErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the attempt.
func (s SearchState) Terminal() bool {
	switch s {
	case SearchMatched, SearchTimedOut, SearchErrored:
		return true
	default:
		return false
	}
}
