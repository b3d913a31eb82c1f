// Package relay implements the server-side room bookkeeping and event
// fan-out for Corkboard.
//
// Registry owns the room → member-session mapping. It is pure
// bookkeeping: no I/O, no knowledge of connections. Rooms are created
// lazily on first join and deleted when the last member leaves;
// membership is never persisted.
//
// Relay fans a published message out to every subscriber in a room
// except the originator. Delivery is best-effort and at-most-once per
// subscriber per publish: there is no persistence and no redelivery on
// reconnect, so a reconnecting client must re-fetch authoritative state.
// A slow or broken subscriber is isolated by non-blocking enqueue; its
// failure is counted and logged, never surfaced to the publisher or
// allowed to delay delivery to the other members.
//
// Ordering: messages published from the same origin session arrive at
// each subscriber in publish order, because each session publishes from
// a single dispatch goroutine into order-preserving buffered channels.
// No cross-origin ordering is guaranteed.
package relay
