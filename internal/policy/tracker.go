package policy

import (
	"time"

	"github.com/kunci115/RealtimeSTT/internal/integrity"
)

// Tracker holds the failure state of one client connection. Each tracker is
// owned exclusively by the goroutine handling its connection, and frames
// reach OnVerdict strictly in arrival order, so no locking happens here.
// Decode errors never reach the tracker: a frame that cannot be parsed is
// dropped before a verdict exists.
type Tracker struct {
	clientID     string
	config       *Config
	failureCount uint32
	createdAt    time.Time
	state        State
}

// NewTracker creates tracking state for a newly accepted connection
func NewTracker(clientID string, config *Config) *Tracker {
	return &Tracker{
		clientID:  clientID,
		config:    config,
		createdAt: time.Now(),
		state:     StateActive,
	}
}

// OnVerdict folds one verification outcome into the connection state and
// returns the action the handler must take. A nil verdict means the frame
// was not verified (not requested, or verification disabled by policy) and
// is always accepted. Failing verdicts increment the failure count for the
// lifetime of the connection; passing verdicts never reset it.
func (t *Tracker) OnVerdict(verdict *integrity.Verdict) Action {
	if t.state != StateActive {
		// Terminal states accept no input. The connection is already
		// being torn down, so the only sane instruction is to drop it.
		return ActionReject
	}

	if verdict == nil || verdict.OK {
		return ActionAccept
	}

	t.failureCount++

	if !t.config.RejectEnabled {
		return ActionAcceptWithWarning
	}
	if t.failureCount <= t.config.CorruptionThreshold {
		return ActionAcceptWithWarning
	}

	t.state = StateRejected
	return ActionReject
}

// Close marks the connection as gone. Idempotent; a tracker that was
// already rejected stays rejected.
func (t *Tracker) Close() {
	if t.state == StateActive {
		t.state = StateDisconnected
	}
}

// ClientID returns the opaque identifier of the tracked connection
func (t *Tracker) ClientID() string {
	return t.clientID
}

// FailureCount returns the number of failed verdicts seen so far
func (t *Tracker) FailureCount() uint32 {
	return t.failureCount
}

// CreatedAt returns when the connection was accepted
func (t *Tracker) CreatedAt() time.Time {
	return t.createdAt
}

// State returns the current lifecycle state
func (t *Tracker) State() State {
	return t.state
}
