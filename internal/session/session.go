package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kunci115/RealtimeSTT/internal/audio"
	"github.com/kunci115/RealtimeSTT/internal/integrity"
	"github.com/kunci115/RealtimeSTT/internal/policy"
	"github.com/kunci115/RealtimeSTT/internal/protocol"
	"github.com/kunci115/RealtimeSTT/internal/recognition"
	"github.com/kunci115/RealtimeSTT/internal/vad"
)

// ErrRejected is returned by HandleFrame once the corruption policy has
// rejected the connection. The rejection notice has already been sent to
// the client; the transport should close the connection.
var ErrRejected = errors.New("session: connection rejected for repeated corruption")

// Sender delivers JSON control messages to the connected client.
// Implementations must be safe for concurrent use.
type Sender interface {
	SendJSON(v interface{}) error
	Close() error
}

// Recognizer converts assembled utterances to text
type Recognizer interface {
	Recognize(ctx context.Context, sessionID string, utterance *audio.Utterance) (*recognition.Result, error)
}

// Session represents one connected client and owns its frame pipeline.
// HandleFrame is called by the connection read loop one frame at a time,
// so the tracker and assembler always see frames in arrival order and
// need no locking of their own.
type Session struct {
	ID         string
	RemoteAddr string
	StartTime  time.Time

	tracker   *policy.Tracker
	assembler *audio.Assembler
	detector  *vad.Detector
	sender    Sender
	manager   *Manager

	lastActivity time.Time

	// Tracker state mirrored for concurrent readers. The tracker itself
	// is touched only by the connection goroutine.
	trackerState    policy.State
	trackerFailures uint32

	// Statistics
	framesReceived      uint64
	framesDropped       uint64
	verificationsFailed uint64
	recognitionsOK      uint64
	recognitionsFailed  uint64

	mu sync.RWMutex
}

// Info represents session information for monitoring and APIs
type Info struct {
	ID           string        `json:"id"`
	RemoteAddr   string        `json:"remote_addr"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`
	State        string        `json:"state"`

	FramesReceived      uint64 `json:"frames_received"`
	FramesDropped       uint64 `json:"frames_dropped"`
	FailureCount        uint32 `json:"failure_count"`
	VerificationsFailed uint64 `json:"verifications_failed"`

	AssemblyState       string  `json:"assembly_state"`
	UtterancesAssembled uint64  `json:"utterances_assembled"`
	UtterancesDiscarded uint64  `json:"utterances_discarded"`
	VoicePercentage     float64 `json:"voice_percentage"`

	RecognitionsSucceeded uint64 `json:"recognitions_succeeded"`
	RecognitionsFailed    uint64 `json:"recognitions_failed"`
}

// HandleFrame processes one binary frame from the client. Undecodable
// frames are dropped without affecting the corruption policy. A returned
// ErrRejected means the connection must be closed.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	start := time.Now()
	m := s.manager.metrics
	logger := s.manager.logger

	m.RecordFrameReceived(len(data))

	s.mu.Lock()
	s.framesReceived++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		s.mu.Lock()
		s.framesDropped++
		s.mu.Unlock()

		m.RecordDecodeError(decodeErrorReason(err))
		logger.Warn("Dropping undecodable frame",
			slog.String("session_id", s.ID),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var verdict *integrity.Verdict
	if s.manager.config.Policy.VerifyEnabled && frame.Metadata.VerificationRequested {
		verdict = integrity.Verify(frame.Metadata, frame.Payload)
		m.RecordVerification(verdict.OK)

		if !verdict.OK {
			s.mu.Lock()
			s.verificationsFailed++
			s.mu.Unlock()
		}

		if s.manager.config.Policy.ExtendedLogging {
			logger.Debug("Frame verified",
				slog.String("session_id", s.ID),
				slog.Bool("ok", verdict.OK),
				slog.Uint64("length_expected", uint64(verdict.LengthExpected)),
				slog.Uint64("length_actual", uint64(verdict.LengthActual)),
				slog.Uint64("checksum_expected", uint64(verdict.ChecksumExpected)),
				slog.Uint64("checksum_actual", uint64(verdict.ChecksumActual)),
			)
		}
	}

	alreadyTerminal := s.tracker.State() != policy.StateActive
	action := s.tracker.OnVerdict(verdict)

	s.mu.Lock()
	s.trackerState = s.tracker.State()
	s.trackerFailures = s.tracker.FailureCount()
	s.mu.Unlock()

	switch action {
	case policy.ActionAcceptWithWarning:
		logger.Warn("Accepting corrupted frame",
			slog.String("session_id", s.ID),
			slog.String("mismatch", verdict.Mismatch()),
			slog.Uint64("failure_count", uint64(s.tracker.FailureCount())),
		)

	case policy.ActionReject:
		if !alreadyTerminal && verdict != nil {
			m.RecordConnectionRejected()

			notice := protocol.NewRejectionNotice(verdict.Mismatch())
			if err := s.sender.SendJSON(notice); err != nil {
				logger.Warn("Failed to send rejection notice",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
			}

			logger.Warn("Rejecting connection after repeated corruption",
				slog.String("session_id", s.ID),
				slog.String("mismatch", verdict.Mismatch()),
				slog.Uint64("failure_count", uint64(s.tracker.FailureCount())),
			)
		}
		return ErrRejected
	}

	events, err := s.assembler.Append(frame.Samples())
	if err != nil {
		logger.Error("Utterance assembly failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	for _, event := range events {
		s.handleAssemblyEvent(ctx, event)
	}

	m.RecordFrameProcessed(time.Since(start).Seconds())
	return nil
}

// handleAssemblyEvent notifies the client about recording transitions and
// dispatches completed utterances for recognition
func (s *Session) handleAssemblyEvent(ctx context.Context, event audio.Event) {
	logger := s.manager.logger

	switch event.Type {
	case audio.EventRecordingStarted:
		if err := s.sender.SendJSON(protocol.Event{Type: protocol.MessageTypeRecordingStart}); err != nil {
			logger.Debug("Failed to send recording start",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}

		logger.Debug("Recording started", slog.String("session_id", s.ID))

	case audio.EventRecordingStopped:
		if err := s.sender.SendJSON(protocol.Event{Type: protocol.MessageTypeRecordingStop}); err != nil {
			logger.Debug("Failed to send recording stop",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}

		if event.Utterance == nil {
			logger.Debug("Recording discarded as too short", slog.String("session_id", s.ID))
			return
		}

		s.manager.metrics.RecordUtterance(
			event.Utterance.Duration.Seconds(),
			len(event.Utterance.Samples)*protocol.BytesPerSample,
		)

		logger.Info("Utterance assembled",
			slog.String("session_id", s.ID),
			slog.String("utterance_id", event.Utterance.ID),
			slog.Float64("duration", event.Utterance.Duration.Seconds()),
			slog.Int("samples", len(event.Utterance.Samples)),
		)

		go s.processRecognition(ctx, event.Utterance)
	}
}

// processRecognition sends one utterance to the recognition API and
// delivers the transcript back to the client
func (s *Session) processRecognition(ctx context.Context, utterance *audio.Utterance) {
	logger := s.manager.logger

	ctx, cancel := context.WithTimeout(ctx, s.manager.dispatchTimeout)
	defer cancel()

	startTime := time.Now()
	result, err := s.manager.recognizer.Recognize(ctx, s.ID, utterance)
	duration := time.Since(startTime)

	if err != nil {
		s.mu.Lock()
		s.recognitionsFailed++
		s.mu.Unlock()

		logger.Error("Recognition failed",
			slog.String("session_id", s.ID),
			slog.String("utterance_id", utterance.ID),
			slog.String("error", err.Error()),
			slog.Float64("duration", duration.Seconds()),
		)
		return
	}

	s.mu.Lock()
	s.recognitionsOK++
	s.mu.Unlock()

	if err := s.sender.SendJSON(protocol.NewTranscript(result.Text)); err != nil {
		logger.Warn("Failed to deliver transcript",
			slog.String("session_id", s.ID),
			slog.String("utterance_id", utterance.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	logger.Info("Utterance recognized",
		slog.String("session_id", s.ID),
		slog.String("utterance_id", utterance.ID),
		slog.String("text", result.Text),
		slog.Float64("confidence", float64(result.Confidence)),
		slog.Float64("duration", duration.Seconds()),
	)
}

// Close finalizes any recording in progress and marks the session closed
func (s *Session) Close() {
	if event := s.assembler.ForceFinalize(); event != nil {
		s.handleAssemblyEvent(context.Background(), *event)
	}

	s.tracker.Close()

	s.mu.Lock()
	s.trackerState = s.tracker.State()
	s.mu.Unlock()
}

// LastActivity returns the time the session last received a frame
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// GetInfo returns session information for monitoring
func (s *Session) GetInfo() Info {
	assemblerStats := s.assembler.GetStats()
	detectorStats := s.detector.GetStats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:           s.ID,
		RemoteAddr:   s.RemoteAddr,
		StartTime:    s.StartTime,
		LastActivity: s.lastActivity,
		Duration:     time.Since(s.StartTime),
		State:        s.trackerState.String(),

		FramesReceived:      s.framesReceived,
		FramesDropped:       s.framesDropped,
		FailureCount:        s.trackerFailures,
		VerificationsFailed: s.verificationsFailed,

		AssemblyState:       assemblerStats.State,
		UtterancesAssembled: assemblerStats.UtterancesAssembled,
		UtterancesDiscarded: assemblerStats.UtterancesDiscarded,
		VoicePercentage:     detectorStats.VoicePercentage,

		RecognitionsSucceeded: s.recognitionsOK,
		RecognitionsFailed:    s.recognitionsFailed,
	}
}

// decodeErrorReason maps a decode error to its metric label
func decodeErrorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated"
	case errors.Is(err, protocol.ErrMalformedMetadata):
		return "malformed_metadata"
	case errors.Is(err, protocol.ErrMisalignedPayload):
		return "misaligned_payload"
	default:
		return "unknown"
	}
}
