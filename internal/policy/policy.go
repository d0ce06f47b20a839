package policy

import "fmt"

// Config is the process-wide verification and rejection policy. It is
// constructed once at startup and shared read-only by every connection
// tracker, so concurrent readers need no synchronization.
type Config struct {
	VerifyEnabled       bool   // Recompute checksums for frames that request it
	RejectEnabled       bool   // Close connections whose failures exceed the threshold
	CorruptionThreshold uint32 // Failing verdicts tolerated per connection; 0 rejects on the first
	ExtendedLogging     bool   // Log passing verdicts too, not only failures
}

// Action tells the connection handler what to do with the current frame
type Action int

const (
	// ActionAccept forwards the payload downstream with no remark
	ActionAccept Action = iota

	// ActionAcceptWithWarning forwards the payload but flags the failure.
	// The policy gates connections, not individual frames, so a tolerated
	// bad frame still reaches the recognition pipeline.
	ActionAcceptWithWarning

	// ActionReject instructs the handler to send a rejection notice and
	// close the connection
	ActionReject
)

// String returns a human-readable representation of the action
func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionAcceptWithWarning:
		return "accept_with_warning"
	case ActionReject:
		return "reject"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// State represents the lifecycle of one tracked connection
type State int

const (
	// StateActive is the initial state and the only one that accepts input
	StateActive State = iota

	// StateRejected is terminal: the policy terminated the connection
	StateRejected

	// StateDisconnected is terminal: the client went away first
	StateDisconnected
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
