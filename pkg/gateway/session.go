package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corkboard-dev/corkboard/pkg/auth"
	"github.com/corkboard-dev/corkboard/pkg/model"
)

// Session is one authenticated live connection. Room membership and the
// last-known cursor position are owned by the dispatch loop; other
// goroutines read them only through stateMu.
type Session struct {
	ID        string
	Identity  auth.Identity
	CreatedAt time.Time

	server *Server
	conn   *websocket.Conn
	logger *slog.Logger
	config *Config

	// Connection write guard.
	writeMu sync.Mutex
	closed  atomic.Bool

	// Dispatch-loop-owned state, mirrored under stateMu for presence
	// snapshots taken by other sessions' loops.
	stateMu sync.Mutex
	roomID  string
	cursor  *model.Position

	inbound chan *model.ClientMessage
	outbox  chan *model.ServerMessage
	done    chan struct{}

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
}

// generateSessionID returns a cryptographically random connection id.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Weak session ids are a security hazard; refuse to run without
		// entropy.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func newSession(server *Server, conn *websocket.Conn, identity auth.Identity) *Session {
	id := generateSessionID()
	return &Session{
		ID:        id,
		Identity:  identity,
		CreatedAt: time.Now(),
		server:    server,
		conn:      conn,
		logger:    server.logger.With("session_id", id, "user_id", identity.UserID),
		config:    server.config,
		inbound:   make(chan *model.ClientMessage, server.config.InboxSize),
		outbox:    make(chan *model.ServerMessage, server.config.OutboxSize),
		done:      make(chan struct{}),
	}
}

// start launches the session goroutines. Called once, after hello_ack.
func (s *Session) start() {
	go s.readLoop()
	go s.dispatchLoop()
	go s.writeLoop()
}

// Close shuts the session down. Safe to call from any goroutine and
// idempotent; the dispatch loop performs the exactly-once leave
// broadcast on its way out.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
}

// Enqueue implements relay.Subscriber. It never blocks: a full outbox
// or closed session returns an error and the delivery is dropped.
func (s *Session) Enqueue(msg *model.ServerMessage) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.outbox <- msg:
		return nil
	default:
		return &SessionError{SessionID: s.ID, Op: "enqueue", Err: ErrOutboxFull}
	}
}

// Stats returns session statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:        s.ID,
		UserID:    s.Identity.UserID,
		RoomID:    s.currentRoom(),
		CreatedAt: s.CreatedAt,
		BytesSent: s.bytesSent.Load(),
		BytesRecv: s.bytesRecv.Load(),
	}
}

// SessionStats contains session statistics.
type SessionStats struct {
	ID        string
	UserID    string
	RoomID    string
	CreatedAt time.Time
	BytesSent uint64
	BytesRecv uint64
}

// presenceEntry snapshots the session for presence messages.
func (s *Session) presenceEntry() model.PresenceEntry {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	entry := model.PresenceEntry{
		SessionID:   s.ID,
		UserID:      s.Identity.UserID,
		DisplayName: s.Identity.DisplayName,
		AvatarRef:   s.Identity.AvatarRef,
	}
	if s.cursor != nil {
		c := *s.cursor
		entry.Cursor = &c
	}
	return entry
}

// currentRoom returns the room the session is in, or "".
func (s *Session) currentRoom() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.roomID
}

func (s *Session) setRoom(roomID string) {
	s.stateMu.Lock()
	s.roomID = roomID
	s.stateMu.Unlock()
}

func (s *Session) setCursor(pos model.Position) {
	s.stateMu.Lock()
	p := pos
	s.cursor = &p
	s.stateMu.Unlock()
}

// readLoop pumps frames off the socket into the dispatch loop.
func (s *Session) readLoop() {
	defer s.Close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}
		s.bytesRecv.Add(uint64(len(data)))

		msg, err := model.DecodeClientMessage(data)
		if err != nil {
			s.logger.Warn("frame decode error", "error", err)
			s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload, "malformed frame"))
			continue
		}

		select {
		case s.inbound <- msg:
		case <-s.done:
			return
		}
	}
}

// dispatchLoop is the single goroutine that owns session state. All
// join/leave/mutation/cursor handling happens here, in arrival order.
func (s *Session) dispatchLoop() {
	defer s.server.releaseSession(s)

	for {
		select {
		case msg := <-s.inbound:
			s.handleMessage(msg)
		case <-s.done:
			s.leaveRoom()
			return
		}
	}
}

// writeLoop drains the outbox and sends heartbeat pings.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.outbox:
			if err := s.writeMessage(msg); err != nil {
				s.logger.Error("write error", "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeMessage(msg *model.ServerMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return &SessionError{SessionID: s.ID, Op: "encode", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SessionError{SessionID: s.ID, Op: "write", Err: err}
	}
	s.bytesSent.Add(uint64(len(data)))
	return nil
}

func (s *Session) handleMessage(msg *model.ClientMessage) {
	switch msg.Type {
	case model.TypeJoinRoom:
		s.handleJoin(msg)
	case model.TypeLeaveRoom:
		s.handleLeave(msg)
	case model.TypeCursorMove:
		s.handleCursorMove(msg)
	case model.TypeElementCreated, model.TypeElementUpdated, model.TypeElementDeleted,
		model.TypeVoteAdded, model.TypeVoteRemoved:
		s.handleMutation(msg)
	case model.TypeHello:
		// Handshake already completed; a second hello is a protocol
		// error but not fatal.
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload, "already authenticated"))
	default:
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload,
			fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (s *Session) handleJoin(msg *model.ClientMessage) {
	var payload model.JoinRoomPayload
	if err := msg.DecodePayload(&payload); err != nil || payload.ProjectID == "" {
		s.logger.Warn("malformed join payload", "error", err)
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload, "join_room requires projectId"))
		return
	}

	// Joining while in another room leaves it first, with the usual
	// user_left broadcast.
	if current := s.currentRoom(); current != "" {
		if current == payload.ProjectID {
			s.Enqueue(&model.ServerMessage{
				Type:   model.TypeJoined,
				Joined: &model.JoinedPayload{ProjectID: current},
			})
			return
		}
		s.leaveRoom()
	}

	s.server.registry.Join(payload.ProjectID, s.ID)
	s.setRoom(payload.ProjectID)
	s.server.metrics.setRooms(s.server.registry.Rooms())

	s.Enqueue(&model.ServerMessage{
		Type:   model.TypeJoined,
		Joined: &model.JoinedPayload{ProjectID: payload.ProjectID},
	})
	s.Enqueue(&model.ServerMessage{
		Type: model.TypePresenceSnapshot,
		Presence: &model.PresencePayload{
			ProjectID: payload.ProjectID,
			Members:   s.server.presenceSnapshot(payload.ProjectID),
		},
	})

	entry := s.presenceEntry()
	s.server.relay.Publish(payload.ProjectID, &model.ServerMessage{
		Type:   model.TypeUserJoined,
		Member: &entry,
	}, s.ID)

	s.logger.Info("joined room", "room_id", payload.ProjectID,
		"members", s.server.registry.Size(payload.ProjectID))
}

func (s *Session) handleLeave(msg *model.ClientMessage) {
	var payload model.LeaveRoomPayload
	if err := msg.DecodePayload(&payload); err != nil {
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload, "malformed leave_room payload"))
		return
	}
	current := s.currentRoom()
	if current == "" || (payload.ProjectID != "" && payload.ProjectID != current) {
		s.Enqueue(model.NewErrorMessage(model.ErrCodeNotInRoom, "not in that room"))
		return
	}
	s.leaveRoom()
}

// leaveRoom deregisters from the current room and broadcasts user_left.
// It only runs on the dispatch loop, so the broadcast happens exactly
// once per joined session even when an explicit leave races a
// disconnect: whichever arrives second finds roomID empty.
func (s *Session) leaveRoom() {
	room := s.currentRoom()
	if room == "" {
		return
	}
	s.setRoom("")
	s.server.registry.Leave(room, s.ID)
	s.server.metrics.setRooms(s.server.registry.Rooms())

	entry := s.presenceEntry()
	s.server.relay.Publish(room, &model.ServerMessage{
		Type:   model.TypeUserLeft,
		Member: &entry,
	}, s.ID)

	s.logger.Info("left room", "room_id", room)
}

func (s *Session) handleCursorMove(msg *model.ClientMessage) {
	room := s.currentRoom()
	if room == "" {
		s.Enqueue(model.NewErrorMessage(model.ErrCodeNotInRoom, "cursor_move requires a room"))
		return
	}

	var payload model.CursorMovePayload
	if err := msg.DecodePayload(&payload); err != nil {
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload, "malformed cursor_move payload"))
		return
	}

	pos := model.Position{X: payload.X, Y: payload.Y}
	s.setCursor(pos)
	s.server.metrics.eventReceived()

	// Cursor positions are ephemeral: relayed like any other event but
	// never written anywhere.
	s.server.relay.Publish(room, &model.ServerMessage{
		Type: model.TypeCursorMoved,
		Cursor: &model.CursorPayload{
			UserID:      s.Identity.UserID,
			DisplayName: s.Identity.DisplayName,
			Position:    pos,
		},
	}, s.ID)
}

func (s *Session) handleMutation(msg *model.ClientMessage) {
	room := s.currentRoom()
	if room == "" {
		s.Enqueue(model.NewErrorMessage(model.ErrCodeNotInRoom, "mutation requires a room"))
		return
	}

	ev, err := model.DecodeMutationEvent(msg.Payload)
	if err != nil {
		s.logger.Warn("malformed mutation payload", "type", msg.Type, "error", err)
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload, "malformed mutation payload"))
		return
	}
	if string(ev.Kind) != string(msg.Type) {
		s.Enqueue(model.NewErrorMessage(model.ErrCodeBadPayload,
			fmt.Sprintf("event kind %q does not match frame type %q", ev.Kind, msg.Type)))
		return
	}

	// The origin user id is the session's, regardless of what the
	// client claimed.
	ev.UserID = s.Identity.UserID
	s.server.metrics.eventReceived()

	s.server.relay.Publish(room, &model.ServerMessage{
		Type:  model.TypeCollaborationEvent,
		Event: ev,
	}, s.ID)
}
