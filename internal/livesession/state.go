package livesession

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateDenied
	StateConnecting
	StateJoining
	StateActive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateDenied:
		return "denied"
	case StateConnecting:
		return "connecting"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// User-visible denial reasons.
const (
	ReasonNotLoggedIn   = "You must be logged in to access the live page"
	ReasonNotRegistered = "You must be registered for this event to access the live page"
	ReasonNotLive       = "This event is not currently live"
	ReasonNotFound      = "Event not found"
	ReasonLoadFailed    = "Failed to load event details"
)
