package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies a wire envelope type.
type MessageType string

// Client → server message types.
const (
	TypeHello          MessageType = "hello"
	TypeJoinRoom       MessageType = "join_room"
	TypeLeaveRoom      MessageType = "leave_room"
	TypeCursorMove     MessageType = "cursor_move"
	TypeElementCreated MessageType = "element_created"
	TypeElementUpdated MessageType = "element_updated"
	TypeElementDeleted MessageType = "element_deleted"
	TypeVoteAdded      MessageType = "vote_added"
	TypeVoteRemoved    MessageType = "vote_removed"
)

// Server → client message types.
const (
	TypeHelloAck           MessageType = "hello_ack"
	TypeJoined             MessageType = "joined"
	TypePresenceSnapshot   MessageType = "presence_snapshot"
	TypeUserJoined         MessageType = "user_joined"
	TypeUserLeft           MessageType = "user_left"
	TypeCursorMoved        MessageType = "cursor_moved"
	TypeCollaborationEvent MessageType = "collaboration_event"
	TypeError              MessageType = "error"
)

// ErrMalformedMessage is returned when an envelope or payload cannot be
// decoded.
var ErrMalformedMessage = errors.New("model: malformed message")

// ClientMessage is the inbound wire envelope. Payload is decoded lazily
// per Type via the typed accessors below, so a malformed payload never
// takes down the envelope decode.
type ClientMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload opens the connection handshake. Token is the bearer
// credential; the connection is closed before any room interaction if
// it is absent or invalid.
type HelloPayload struct {
	Token string `json:"token"`
}

// JoinRoomPayload requests membership in a project's room.
type JoinRoomPayload struct {
	ProjectID string `json:"projectId"`
}

// LeaveRoomPayload leaves the named room.
type LeaveRoomPayload struct {
	ProjectID string `json:"projectId"`
}

// CursorMovePayload carries the local user's latest pointer position.
type CursorMovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DecodeClientMessage parses the inbound envelope.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return &m, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (m *ClientMessage) DecodePayload(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %q", ErrMalformedMessage, m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%w: payload for %q: %v", ErrMalformedMessage, m.Type, err)
	}
	return nil
}

// ServerMessage is the outbound wire envelope. Exactly one payload
// field matching Type is populated.
type ServerMessage struct {
	Type MessageType `json:"type"`

	HelloAck *HelloAckPayload `json:"helloAck,omitempty"`
	Joined   *JoinedPayload   `json:"joined,omitempty"`
	Presence *PresencePayload `json:"presence,omitempty"`
	Member   *PresenceEntry   `json:"member,omitempty"`
	Cursor   *CursorPayload   `json:"cursor,omitempty"`
	Event    *MutationEvent   `json:"event,omitempty"`
	Error    *ErrorAckPayload `json:"error,omitempty"`
}

// HelloAckPayload confirms a successful handshake.
type HelloAckPayload struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// JoinedPayload acknowledges room membership.
type JoinedPayload struct {
	ProjectID string `json:"projectId"`
}

// PresencePayload is the member list sent to a session on join.
type PresencePayload struct {
	ProjectID string          `json:"projectId"`
	Members   []PresenceEntry `json:"members"`
}

// ErrorAckPayload reports a recoverable protocol error to the client.
type ErrorAckPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error ack codes.
const (
	ErrCodeAuth       = "auth_failed"
	ErrCodeBadPayload = "bad_payload"
	ErrCodeNotInRoom  = "not_in_room"
	ErrCodeInternal   = "internal"
)

// Encode marshals the envelope for the wire.
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewErrorMessage builds an error ack envelope.
func NewErrorMessage(code, message string) *ServerMessage {
	return &ServerMessage{
		Type:  TypeError,
		Error: &ErrorAckPayload{Code: code, Message: message},
	}
}
