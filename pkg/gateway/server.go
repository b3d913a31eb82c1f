package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corkboard-dev/corkboard/pkg/auth"
	"github.com/corkboard-dev/corkboard/pkg/model"
	"github.com/corkboard-dev/corkboard/pkg/relay"
)

// Server is the gateway's HTTP surface: it upgrades connections, runs
// the credential handshake, and hands authenticated sessions to the
// relay. Construct one per process and mount it on any router.
type Server struct {
	registry *relay.Registry
	relay    *relay.Relay
	verifier auth.Verifier
	config   *Config
	upgrader websocket.Upgrader
	metrics  *Metrics
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics installs gateway metrics. The same Metrics value is wired
// into the relay's delivery counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger.With("component", "gateway") }
}

// NewServer creates a gateway over the given registry and relay.
func NewServer(registry *relay.Registry, r *relay.Relay, verifier auth.Verifier, config *Config, opts ...Option) *Server {
	config = config.withDefaults()
	s := &Server{
		registry: registry,
		relay:    r,
		verifier: verifier,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger:   slog.Default().With("component", "gateway"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		r.SetMetrics(s.metrics)
	}
	return s
}

// ServeHTTP implements http.Handler by upgrading to WebSocket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the connection and runs the handshake. The
// first frame must be a hello carrying a valid bearer credential; on
// any failure the connection is closed with an auth error and no
// session exists.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	identity, err := s.handshake(conn, r)
	if err != nil {
		s.metrics.authFailure()
		// Handshake rejections are security events.
		s.logger.Warn("handshake rejected",
			"remote_addr", r.RemoteAddr,
			"error", err)
		writeDirect(conn, s.config.WriteTimeout,
			model.NewErrorMessage(model.ErrCodeAuth, "authentication failed"))
		conn.Close()
		return
	}

	session := newSession(s, conn, *identity)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	s.relay.Subscribe(session.ID, session)
	s.metrics.sessionOpened()

	session.Enqueue(&model.ServerMessage{
		Type: model.TypeHelloAck,
		HelloAck: &model.HelloAckPayload{
			SessionID:   session.ID,
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
		},
	})
	session.start()

	s.logger.Info("session created",
		"session_id", session.ID,
		"user_id", identity.UserID,
		"active_sessions", s.Count())
}

// handshake reads and verifies the hello frame.
func (s *Server) handshake(conn *websocket.Conn, r *http.Request) (*auth.Identity, error) {
	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, &SessionError{Op: "handshake_read", Err: err}
	}

	msg, err := model.DecodeClientMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Type != model.TypeHello {
		return nil, ErrInvalidPayload
	}

	var hello model.HelloPayload
	if err := msg.DecodePayload(&hello); err != nil {
		return nil, err
	}
	if hello.Token == "" {
		return nil, auth.ErrInvalidCredential
	}

	return s.verifier.Verify(r.Context(), hello.Token)
}

// releaseSession removes a closed session from the server. Called by
// the session's dispatch loop on its way out, after the leave broadcast.
func (s *Server) releaseSession(session *Session) {
	s.relay.Unsubscribe(session.ID)

	s.mu.Lock()
	_, present := s.sessions[session.ID]
	delete(s.sessions, session.ID)
	s.mu.Unlock()

	if present {
		s.metrics.sessionClosed()
		s.logger.Info("session closed",
			"session_id", session.ID,
			"user_id", session.Identity.UserID,
			"bytes_sent", session.bytesSent.Load(),
			"bytes_recv", session.bytesRecv.Load(),
			"active_sessions", s.Count())
	}
}

// Count returns the number of live sessions.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Session returns a live session by id.
func (s *Server) Session(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// presenceSnapshot builds the member list for a room at a consistent
// registry serialization point.
func (s *Server) presenceSnapshot(roomID string) []model.PresenceEntry {
	ids := s.registry.MembersOf(roomID)
	entries := make([]model.PresenceEntry, 0, len(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		if session, ok := s.sessions[id]; ok {
			entries = append(entries, session.presenceEntry())
		}
	}
	return entries
}

// Shutdown closes every live session.
func (s *Server) Shutdown() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	for _, session := range sessions {
		session.Close()
	}
}

// writeDirect writes one message on a connection that has no session
// yet (handshake rejections).
func writeDirect(conn *websocket.Conn, timeout time.Duration, msg *model.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(timeout))
	conn.WriteMessage(websocket.TextMessage, data)
}
