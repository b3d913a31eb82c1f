// Package board implements the client side of Corkboard's collaboration
// engine: the reconciliation engine that keeps a locally mutated board
// consistent, the durable-store client it confirms mutations against,
// and the throttled cursor broadcaster.
//
// # State model
//
// The engine owns three conceptual slices of state merged into one
// observable element list:
//
//  1. the authoritative snapshot, periodically re-fetched from the
//     external store and possibly stale,
//  2. the local optimistic overlay of mutations not yet confirmed
//     durable, and
//  3. the peer event stream arriving from the relay.
//
// Every local mutation applies to the overlay immediately, then issues
// the durable request; the confirmed result reconciles the overlay and
// is only then handed to the broadcast sink. Failures roll the overlay
// back per operation: creates drop their placeholder, updates restore
// exactly the fields the failed delta touched, deletes restore the
// removed element, and a NotFound on update removes the entity instead
// of resurrecting a stale copy.
//
// Each entity carries an explicit state tag (pending, confirmed,
// removing) rather than encoding placeholder-ness in its id.
//
// # Threading
//
// The engine is owned by a single goroutine, the client's event loop.
// Durable calls run on their own goroutines, and their completions are
// posted back onto the owner loop through the dispatch function given
// to New, so every overlay mutation happens on one goroutine and the
// merge rules make the outcome deterministic regardless of arrival
// order.
package board
