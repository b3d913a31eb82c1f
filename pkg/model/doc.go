// Package model defines the shared entity and wire types for Corkboard's
// realtime collaboration engine.
//
// The package is split along two lifecycles:
//
//   - Durable entities (Element, Vote) outlive any connection. They are
//     owned by the external CRUD store; the engine only holds cached and
//     optimistically overlaid copies.
//   - Transient messages (MutationEvent, ClientMessage, ServerMessage,
//     PresenceEntry) exist only on the wire or inside a live session and
//     are never persisted.
//
// MutationEvent is an explicit tagged union: a Kind discriminant plus one
// typed payload pointer per variant. Exactly one payload is populated for
// any given kind, and DecodeMutationEvent rejects events whose payload
// does not match their kind.
//
// The wire envelope is line-delimited JSON over WebSocket text frames:
//
//	{"type": "join_room", "payload": {"projectId": "p1"}}
//
// Inbound (client → server) types: hello, join_room, leave_room,
// cursor_move, element_created, element_updated, element_deleted,
// vote_added, vote_removed.
//
// Outbound (server → client) types: hello_ack, joined, presence_snapshot,
// user_joined, user_left, cursor_moved, collaboration_event, error.
package model
