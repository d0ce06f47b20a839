package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kunci115/RealtimeSTT/internal/audio"
	"github.com/kunci115/RealtimeSTT/internal/metrics"
	"github.com/kunci115/RealtimeSTT/internal/policy"
	"github.com/kunci115/RealtimeSTT/internal/vad"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	MaxSessions        int
	SessionTimeout     time.Duration
	Policy             policy.Config
	Assembler          audio.AssemblerConfig
	VADThreshold       float32
	VADWindowSize      int
	RecognitionTimeout time.Duration
	MaxRetries         int
}

// Manager manages all active client sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	logger     *slog.Logger
	metrics    *metrics.Metrics
	config     ManagerConfig
	recognizer Recognizer

	// Upper bound for one recognition dispatch: every attempt may run to
	// the request timeout, with capped backoff between attempts.
	dispatchTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a new session manager
func NewManager(logger *slog.Logger, config ManagerConfig, recognizer Recognizer, m *metrics.Metrics) (*Manager, error) {
	if recognizer == nil {
		return nil, fmt.Errorf("recognizer must not be nil")
	}

	if config.MaxSessions <= 0 {
		config.MaxSessions = 100
	}

	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 5 * time.Minute
	}

	timeout := config.RecognitionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dispatchTimeout := timeout*time.Duration(config.MaxRetries+1) +
		30*time.Second*time.Duration(config.MaxRetries)

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:        make(map[string]*Session),
		logger:          logger,
		metrics:         m,
		config:          config,
		recognizer:      recognizer,
		dispatchTimeout: dispatchTimeout,
		ctx:             ctx,
		cancel:          cancel,
		cleanup:         make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession registers a new client session
func (m *Manager) CreateSession(sender Sender, remoteAddr string) (*Session, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d)", m.config.MaxSessions)
	}

	detector, err := vad.NewDetector(m.config.VADThreshold, m.config.VADWindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice detector: %w", err)
	}

	assembler, err := audio.NewAssembler(m.config.Assembler, detector)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		StartTime:  now,

		tracker:   nil, // assigned below, needs the session ID
		assembler: assembler,
		detector:  detector,
		sender:    sender,
		manager:   m,

		lastActivity: now,
		trackerState: policy.StateActive,
	}
	session.tracker = policy.NewTracker(session.ID, &m.config.Policy)

	m.sessions[session.ID] = session

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Session created",
		slog.String("session_id", session.ID),
		slog.String("remote_addr", remoteAddr),
		slog.Int("active_sessions", len(m.sessions)),
	)

	return session, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// GetAllSessionInfos returns monitoring information for all active sessions
func (m *Manager) GetAllSessionInfos() []Info {
	sessions := m.GetAllSessions()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetInfo())
	}

	return infos
}

// RemoveSession removes a session and finalizes its state
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.Close()

	duration := time.Since(session.StartTime)
	m.metrics.RecordSessionClosed(duration.Seconds())
	m.metrics.SetActiveSessions(active)

	info := session.GetInfo()
	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.Duration("duration", duration),
		slog.Uint64("frames_received", info.FramesReceived),
		slog.Uint64("frames_dropped", info.FramesDropped),
		slog.Uint64("utterances", info.UtterancesAssembled),
		slog.String("state", info.State),
	)

	return true
}

// Stop gracefully stops the session manager
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		remaining = append(remaining, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range remaining {
		session.Close()
		session.sender.Close()
	}

	// Stop the cleanup routine and wait for it to finish
	m.cancel()
	<-m.cleanup

	m.metrics.SetActiveSessions(0)

	m.logger.Info("Session manager stopped",
		slog.Int("sessions_closed", len(remaining)),
	)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", 30*time.Second),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()

	m.mu.RLock()
	expired := make([]*Session, 0)
	for _, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.config.SessionTimeout {
			expired = append(expired, session)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up expired sessions",
		slog.Int("expired_count", len(expired)),
	)

	for _, session := range expired {
		m.RemoveSession(session.ID)
		// Closing the transport unblocks the connection read loop
		session.sender.Close()
	}
}
