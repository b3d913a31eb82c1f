// Package gateway implements Corkboard's connection gateway: the
// WebSocket endpoint that authenticates each incoming socket, manages
// session and room lifecycle, and feeds the event relay.
//
// Each connection runs three goroutines, started after a successful
// handshake:
//
//   - readLoop pumps frames off the socket into the session's inbound
//     channel,
//   - dispatchLoop is the single goroutine that owns the session's room
//     membership and cursor state and handles every inbound message in
//     arrival order, and
//   - writeLoop drains the outbox onto the socket and sends heartbeats.
//
// Routing all state transitions through one dispatch loop makes message
// ordering and session lifetime explicit: join, leave, and disconnect
// all funnel into the same goroutine, so the user_left broadcast runs
// exactly once per joined session even when an explicit leave races a
// transport disconnect.
//
// The handshake requires a bearer credential in the first frame. An
// absent or invalid credential closes the connection with an auth error
// before any room interaction is possible; no partial or anonymous
// sessions exist.
package gateway
