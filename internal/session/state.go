package session

import "fmt"

// State is the lifecycle state of the single authenticated session.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
	StateLocked          State = "locked"
)

// validTransitions is the full session state machine. Locked is terminal
// except for the external reset path.
var validTransitions = map[State][]State{
	StateUnauthenticated: {
		StateAuthenticating, // login begins
		StateLocked,         // failure budget already exhausted
	},
	StateAuthenticating: {
		StateAuthenticated,   // login succeeded
		StateUnauthenticated, // login step failed, counter incremented
		StateLocked,          // failure budget exhausted
	},
	StateAuthenticated: {
		StateExpired, // probe or a reported login wall detected expiry
		StateLocked,
	},
	StateExpired: {
		StateAuthenticating, // re-login
		StateLocked,
	},
	StateLocked: {
		StateUnauthenticated, // external reset only
	},
}

// ValidateTransition reports whether moving from one state to another is
// allowed by the session state machine.
func ValidateTransition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown session state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid session transition from %s to %s", from, to)
}
