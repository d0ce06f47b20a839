package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kunci115/RealtimeSTT/internal/config"
	"github.com/kunci115/RealtimeSTT/internal/session"
)

const (
	// writeWait bounds a single outbound write, including control frames
	writeWait = 10 * time.Second
)

// WSServer accepts WebSocket connections from audio clients and feeds
// binary frames into per-connection sessions
type WSServer struct {
	config   *config.ServerConfig
	logger   *slog.Logger
	sessions *session.Manager

	upgrader   websocket.Upgrader
	httpServer *http.Server

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Live connections, so Stop can unblock their read loops
	conns map[*wsConn]struct{}

	connectionsAccepted uint64
	connectionsClosed   uint64
	mu                  sync.RWMutex
}

// wsConn wraps a websocket connection behind the session.Sender interface.
// The mutex serializes data writes; gorilla permits a single concurrent
// writer, while Close and WriteControl are safe alongside it.
type wsConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) SendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// NewWSServer creates a new WebSocket data server instance
func NewWSServer(cfg *config.ServerConfig, logger *slog.Logger, sessions *session.Manager) *WSServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &WSServer{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are audio devices and scripts, not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*wsConn]struct{}),
	}
}

// Start begins listening for WebSocket connections
func (s *WSServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.DataPort),
		Handler: mux,
	}

	s.logger.Info("WebSocket data server started",
		slog.String("address", s.httpServer.Addr),
		slog.Int64("max_message_size", s.config.MaxMessageSize),
		slog.Duration("ping_interval", s.config.GetPingIntervalDuration()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket data server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the server and closes all live connections
func (s *WSServer) Stop() error {
	s.logger.Info("Stopping WebSocket data server...")

	// Refuse new upgrades first
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Error shutting down listener", slog.String("error", err.Error()))
	}

	// Closing the transports unblocks every connection read loop
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	// Wait for all connection goroutines to finish
	s.wg.Wait()

	s.mu.RLock()
	accepted := s.connectionsAccepted
	closed := s.connectionsClosed
	s.mu.RUnlock()

	s.logger.Info("WebSocket data server stopped",
		slog.Uint64("connections_accepted", accepted),
		slog.Uint64("connections_closed", closed),
	)

	return nil
}

// handleUpgrade upgrades an HTTP request to a websocket connection and
// registers a session for it
func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ctx.Done():
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	wsc := &wsConn{conn: conn}

	sess, err := s.sessions.CreateSession(wsc, r.RemoteAddr)
	if err != nil {
		s.logger.Warn("Refusing connection",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached"),
			time.Now().Add(writeWait))
		wsc.Close()
		return
	}

	s.mu.Lock()
	s.connectionsAccepted++
	s.conns[wsc] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Connection accepted",
		slog.String("session_id", sess.ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	s.wg.Add(1)
	go s.connectionLoop(sess, wsc)
}

// connectionLoop reads frames from a single connection until it closes.
// It owns the session's frame path: HandleFrame is never called from
// anywhere else, so the session needs no locking around its tracker.
func (s *WSServer) connectionLoop(sess *session.Session, wsc *wsConn) {
	defer s.wg.Done()

	pingInterval := s.config.GetPingIntervalDuration()
	pongWait := 2 * pingInterval

	defer func() {
		s.sessions.RemoveSession(sess.ID)
		wsc.Close()

		s.mu.Lock()
		s.connectionsClosed++
		delete(s.conns, wsc)
		s.mu.Unlock()

		s.logger.Info("Connection closed",
			slog.String("session_id", sess.ID),
			slog.String("remote_addr", sess.RemoteAddr),
		)
	}()

	conn := wsc.conn
	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Keepalive pings; WriteControl is safe alongside SendJSON writes
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Connection read error",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			} else {
				s.logger.Debug("Connection closed by client",
					slog.String("session_id", sess.ID),
				)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := sess.HandleFrame(s.ctx, data); err != nil {
				if errors.Is(err, session.ErrRejected) {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "data corruption"),
						time.Now().Add(writeWait))
					return
				}
				s.logger.Error("Failed to handle frame",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		case websocket.TextMessage:
			// The data channel carries only binary frames
			s.logger.Debug("Ignoring text message on data channel",
				slog.String("session_id", sess.ID),
				slog.Int("size", len(data)),
			)
		}
	}
}

// GetStatistics returns current server statistics
func (s *WSServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		ConnectionsClosed:   s.connectionsClosed,
		ActiveConnections:   uint64(len(s.conns)),
		ActiveSessions:      uint64(s.sessions.GetActiveSessionCount()),
	}
}

// ServerStatistics represents data server performance metrics
type ServerStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsClosed   uint64 `json:"connections_closed"`
	ActiveConnections   uint64 `json:"active_connections"`
	ActiveSessions      uint64 `json:"active_sessions"`
}
