package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kunci115/RealtimeSTT/internal/vad"
)

// UtteranceState represents the current state of utterance assembly
type UtteranceState int

const (
	StateIdle UtteranceState = iota
	StateRecording
)

// String returns a human-readable state name
func (s UtteranceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventType identifies a state transition produced by the assembler
type EventType int

const (
	EventRecordingStarted EventType = iota
	EventRecordingStopped
)

// Event is emitted when the assembler starts or stops a recording. On
// EventRecordingStopped, Utterance is set when the recording was long
// enough to be worth recognizing and nil when it was discarded.
type Event struct {
	Type      EventType
	Utterance *Utterance
}

// Utterance represents a complete span of speech ready for recognition
type Utterance struct {
	ID          string        `json:"id"`
	Samples     []int16       `json:"-"`
	SampleRate  int           `json:"sample_rate"`
	Duration    time.Duration `json:"duration"`
	StartOffset time.Duration `json:"start_offset"` // Position in the stream where recording began
}

// AssemblerConfig contains configuration for utterance assembly. All
// durations are measured in sample time, not wall time, so assembly is
// deterministic regardless of frame pacing.
type AssemblerConfig struct {
	SampleRate      int
	MinDuration     time.Duration // Recordings shorter than this are discarded
	MaxDuration     time.Duration // Recordings are force-closed at this length
	SilenceDuration time.Duration // Trailing silence that closes a recording
}

// Assembler accumulates PCM samples from one client, gates them through
// voice activity detection and cuts complete utterances bounded by silence
type Assembler struct {
	config   AssemblerConfig
	detector *vad.Detector

	state             UtteranceState
	pending           []int16 // Samples not yet forming a full VAD window
	recorded          []int16 // Samples of the recording in progress
	silentWindows     int     // Consecutive non-voice windows while recording
	streamSamples     uint64  // Total samples consumed, the stream clock
	recordStartSample uint64

	// Statistics
	utterancesAssembled uint64
	utterancesDiscarded uint64
	assembledDuration   time.Duration

	mu sync.RWMutex
}

// AssemblerStats represents assembler statistics
type AssemblerStats struct {
	State               string        `json:"state"`
	UtterancesAssembled uint64        `json:"utterances_assembled"`
	UtterancesDiscarded uint64        `json:"utterances_discarded"`
	AssembledDuration   time.Duration `json:"assembled_duration"`
	PendingSamples      int           `json:"pending_samples"`
	RecordedSamples     int           `json:"recorded_samples"`
}

// NewAssembler creates a new utterance assembler
func NewAssembler(config AssemblerConfig, detector *vad.Detector) (*Assembler, error) {
	if detector == nil {
		return nil, fmt.Errorf("detector must not be nil")
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.MinDuration <= 0 {
		return nil, fmt.Errorf("min duration must be positive, got %v", config.MinDuration)
	}

	if config.MaxDuration <= config.MinDuration {
		return nil, fmt.Errorf("max duration %v must exceed min duration %v",
			config.MaxDuration, config.MinDuration)
	}

	if config.SilenceDuration <= 0 {
		return nil, fmt.Errorf("silence duration must be positive, got %v", config.SilenceDuration)
	}

	return &Assembler{
		config:   config,
		detector: detector,
		state:    StateIdle,
	}, nil
}

// Append consumes decoded samples and returns the events produced by
// advancing the assembly state machine. One call may start a recording,
// stop one, or both when the samples span a whole utterance.
func (a *Assembler) Append(samples []int16) ([]Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = append(a.pending, samples...)

	windowSize := a.detector.GetWindowSize()
	var events []Event

	offset := 0
	for len(a.pending)-offset >= windowSize {
		window := a.pending[offset : offset+windowSize]

		result, err := a.detector.Detect(window)
		if err != nil {
			return events, fmt.Errorf("voice detection failed: %w", err)
		}

		events = append(events, a.advance(window, result.HasVoice)...)

		offset += windowSize
		a.streamSamples += uint64(windowSize)
	}

	if offset > 0 {
		n := copy(a.pending, a.pending[offset:])
		a.pending = a.pending[:n]
	}

	return events, nil
}

// advance feeds one analyzed window into the state machine
func (a *Assembler) advance(window []int16, hasVoice bool) []Event {
	switch a.state {
	case StateIdle:
		if hasVoice {
			a.state = StateRecording
			a.recordStartSample = a.streamSamples
			a.recorded = append(a.recorded[:0], window...)
			a.silentWindows = 0
			return []Event{{Type: EventRecordingStarted}}
		}
		// Silence between utterances is dropped

	case StateRecording:
		a.recorded = append(a.recorded, window...)

		if hasVoice {
			a.silentWindows = 0
		} else {
			a.silentWindows++
			if a.trailingSilence() >= a.config.SilenceDuration {
				return a.finalize()
			}
		}

		if a.recordedDuration() >= a.config.MaxDuration {
			return a.finalize()
		}
	}

	return nil
}

// finalize closes the recording in progress. Recordings shorter than
// MinDuration are discarded but still produce a stop event.
func (a *Assembler) finalize() []Event {
	duration := a.recordedDuration()

	event := Event{Type: EventRecordingStopped}
	if duration >= a.config.MinDuration {
		samples := make([]int16, len(a.recorded))
		copy(samples, a.recorded)

		event.Utterance = &Utterance{
			ID:          uuid.New().String(),
			Samples:     samples,
			SampleRate:  a.config.SampleRate,
			Duration:    duration,
			StartOffset: samplesToDuration(int(a.recordStartSample), a.config.SampleRate),
		}

		a.utterancesAssembled++
		a.assembledDuration += duration
	} else {
		a.utterancesDiscarded++
	}

	a.state = StateIdle
	a.recorded = a.recorded[:0]
	a.silentWindows = 0

	return []Event{event}
}

// ForceFinalize closes any recording in progress, used when the client
// disconnects mid-utterance. Returns nil when nothing was recording.
func (a *Assembler) ForceFinalize() *Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateRecording {
		return nil
	}

	events := a.finalize()
	return &events[0]
}

// GetStats returns current assembler statistics
func (a *Assembler) GetStats() AssemblerStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return AssemblerStats{
		State:               a.state.String(),
		UtterancesAssembled: a.utterancesAssembled,
		UtterancesDiscarded: a.utterancesDiscarded,
		AssembledDuration:   a.assembledDuration,
		PendingSamples:      len(a.pending),
		RecordedSamples:     len(a.recorded),
	}
}

// GetState returns the current assembly state
func (a *Assembler) GetState() UtteranceState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Assembler) recordedDuration() time.Duration {
	return samplesToDuration(len(a.recorded), a.config.SampleRate)
}

func (a *Assembler) trailingSilence() time.Duration {
	return samplesToDuration(a.silentWindows*a.detector.GetWindowSize(), a.config.SampleRate)
}

func samplesToDuration(samples, sampleRate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
