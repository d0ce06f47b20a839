package policy

import (
	"testing"

	"github.com/kunci115/RealtimeSTT/internal/integrity"
)

func TestTrackerUnverifiedFramesAccepted(t *testing.T) {
	tracker := NewTracker("127.0.0.1:52000", &Config{
		VerifyEnabled:       true,
		RejectEnabled:       true,
		CorruptionThreshold: 0,
	})

	for i := 0; i < 5; i++ {
		if action := tracker.OnVerdict(nil); action != ActionAccept {
			t.Fatalf("Expected accept for unverified frame %d, got %s", i, action)
		}
	}
	if tracker.FailureCount() != 0 {
		t.Errorf("Expected failure count 0, got %d", tracker.FailureCount())
	}
	if tracker.State() != StateActive {
		t.Errorf("Expected state active, got %s", tracker.State())
	}
}

func TestTrackerPassingVerdictNeverResetsCount(t *testing.T) {
	tracker := NewTracker("client-1", &Config{
		VerifyEnabled:       true,
		RejectEnabled:       true,
		CorruptionThreshold: 5,
	})

	tracker.OnVerdict(failingVerdict())
	tracker.OnVerdict(failingVerdict())
	if tracker.FailureCount() != 2 {
		t.Fatalf("Expected failure count 2, got %d", tracker.FailureCount())
	}

	// A run of clean frames must not erase the history.
	for i := 0; i < 10; i++ {
		if action := tracker.OnVerdict(passingVerdict()); action != ActionAccept {
			t.Fatalf("Expected accept for passing verdict, got %s", action)
		}
	}
	if tracker.FailureCount() != 2 {
		t.Errorf("Expected failure count to stay 2, got %d", tracker.FailureCount())
	}
}

func TestTrackerMonitorOnlyMode(t *testing.T) {
	// With rejection disabled every failure is a warning, however many
	// accumulate, and the payload keeps flowing downstream.
	tracker := NewTracker("client-1", &Config{
		VerifyEnabled:       true,
		RejectEnabled:       false,
		CorruptionThreshold: 0,
	})

	for i := 1; i <= 20; i++ {
		action := tracker.OnVerdict(failingVerdict())
		if action != ActionAcceptWithWarning {
			t.Fatalf("Expected warning on failure %d, got %s", i, action)
		}
	}
	if tracker.FailureCount() != 20 {
		t.Errorf("Expected failure count 20, got %d", tracker.FailureCount())
	}
	if tracker.State() != StateActive {
		t.Errorf("Expected connection to stay active, got %s", tracker.State())
	}
}

func TestTrackerThresholdSemantics(t *testing.T) {
	tests := []struct {
		name            string
		threshold       uint32
		expectedActions []Action
	}{
		{
			name:            "threshold zero rejects on first failure",
			threshold:       0,
			expectedActions: []Action{ActionReject},
		},
		{
			name:            "threshold one tolerates a single failure",
			threshold:       1,
			expectedActions: []Action{ActionAcceptWithWarning, ActionReject},
		},
		{
			name:      "threshold two tolerates two failures",
			threshold: 2,
			expectedActions: []Action{
				ActionAcceptWithWarning,
				ActionAcceptWithWarning,
				ActionReject,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker("client-1", &Config{
				VerifyEnabled:       true,
				RejectEnabled:       true,
				CorruptionThreshold: tt.threshold,
			})

			for i, expected := range tt.expectedActions {
				action := tracker.OnVerdict(failingVerdict())
				if action != expected {
					t.Fatalf("Failure %d: expected %s, got %s", i+1, expected, action)
				}
			}

			if tracker.State() != StateRejected {
				t.Errorf("Expected state rejected, got %s", tracker.State())
			}
			if tracker.FailureCount() != tt.threshold+1 {
				t.Errorf("Expected failure count %d, got %d", tt.threshold+1, tracker.FailureCount())
			}
		})
	}
}

func TestTrackerInterleavedPassFail(t *testing.T) {
	// Failures accumulate across passing frames: pass, fail, pass, fail,
	// fail crosses a threshold of two on the third failure.
	tracker := NewTracker("client-1", &Config{
		VerifyEnabled:       true,
		RejectEnabled:       true,
		CorruptionThreshold: 2,
	})

	steps := []struct {
		verdict  *integrity.Verdict
		expected Action
	}{
		{passingVerdict(), ActionAccept},
		{failingVerdict(), ActionAcceptWithWarning},
		{passingVerdict(), ActionAccept},
		{failingVerdict(), ActionAcceptWithWarning},
		{passingVerdict(), ActionAccept},
		{failingVerdict(), ActionReject},
	}

	for i, step := range steps {
		action := tracker.OnVerdict(step.verdict)
		if action != step.expected {
			t.Fatalf("Step %d: expected %s, got %s", i, step.expected, action)
		}
	}
}

func TestTrackerTerminalStates(t *testing.T) {
	tracker := NewTracker("client-1", &Config{
		VerifyEnabled: true,
		RejectEnabled: true,
	})

	if action := tracker.OnVerdict(failingVerdict()); action != ActionReject {
		t.Fatalf("Expected reject at threshold zero, got %s", action)
	}
	if tracker.State() != StateRejected {
		t.Fatalf("Expected state rejected, got %s", tracker.State())
	}

	// Input after rejection keeps instructing the handler to drop the
	// connection without growing the count.
	if action := tracker.OnVerdict(passingVerdict()); action != ActionReject {
		t.Errorf("Expected reject in terminal state, got %s", action)
	}
	if tracker.FailureCount() != 1 {
		t.Errorf("Expected failure count frozen at 1, got %d", tracker.FailureCount())
	}

	// Close must not overwrite the rejection.
	tracker.Close()
	if tracker.State() != StateRejected {
		t.Errorf("Expected close to keep rejected state, got %s", tracker.State())
	}
}

func TestTrackerClose(t *testing.T) {
	tracker := NewTracker("client-1", &Config{})

	tracker.Close()
	if tracker.State() != StateDisconnected {
		t.Errorf("Expected state disconnected, got %s", tracker.State())
	}

	tracker.Close()
	if tracker.State() != StateDisconnected {
		t.Errorf("Expected close to be idempotent, got %s", tracker.State())
	}
}

func TestActionString(t *testing.T) {
	tests := []struct {
		action   Action
		expected string
	}{
		{ActionAccept, "accept"},
		{ActionAcceptWithWarning, "accept_with_warning"},
		{ActionReject, "reject"},
		{Action(42), "unknown(42)"},
	}

	for _, tt := range tests {
		if result := tt.action.String(); result != tt.expected {
			t.Errorf("Action(%d).String() = %q, expected %q", int(tt.action), result, tt.expected)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateActive, "active"},
		{StateRejected, "rejected"},
		{StateDisconnected, "disconnected"},
		{State(42), "unknown(42)"},
	}

	for _, tt := range tests {
		if result := tt.state.String(); result != tt.expected {
			t.Errorf("State(%d).String() = %q, expected %q", int(tt.state), result, tt.expected)
		}
	}
}

// Helper functions for tests

func passingVerdict() *integrity.Verdict {
	return &integrity.Verdict{
		LengthExpected:   4,
		LengthActual:     4,
		ChecksumExpected: 10,
		ChecksumActual:   10,
		OK:               true,
	}
}

func failingVerdict() *integrity.Verdict {
	return &integrity.Verdict{
		LengthExpected:   4,
		LengthActual:     4,
		ChecksumExpected: 10,
		ChecksumActual:   11,
		OK:               false,
	}
}
