package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind identifies the variant of a MutationEvent.
type EventKind string

// Event kind constants.
const (
	EventElementCreated EventKind = "element_created"
	EventElementUpdated EventKind = "element_updated"
	EventElementDeleted EventKind = "element_deleted"
	EventVoteAdded      EventKind = "vote_added"
	EventVoteRemoved    EventKind = "vote_removed"
	EventCursorMoved    EventKind = "cursor_moved"
)

// Valid reports whether the kind is one of the known variants.
func (k EventKind) Valid() bool {
	switch k {
	case EventElementCreated, EventElementUpdated, EventElementDeleted,
		EventVoteAdded, EventVoteRemoved, EventCursorMoved:
		return true
	}
	return false
}

// ErrUnknownEventKind is returned when decoding an event with an
// unrecognized kind.
var ErrUnknownEventKind = errors.New("model: unknown event kind")

// ErrMissingPayload is returned when an event's payload does not match
// its kind.
var ErrMissingPayload = errors.New("model: event payload missing for kind")

// ElementDeletedPayload carries the id of a deleted element.
type ElementDeletedPayload struct {
	ElementID string `json:"elementId"`
}

// VoteAddedPayload carries a newly confirmed vote.
type VoteAddedPayload struct {
	ElementID string `json:"elementId"`
	Vote      Vote   `json:"vote"`
}

// VoteRemovedPayload identifies the removed (element, user) vote pair.
type VoteRemovedPayload struct {
	ElementID string `json:"elementId"`
	UserID    string `json:"userId"`
}

// CursorPayload carries an absolute cursor position. Intermediate
// positions may be dropped under throttling; receivers treat each
// payload as the latest position, never a delta.
type CursorPayload struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Position    Position `json:"position"`
}

// MutationEvent is the tagged union broadcast through the relay. Kind
// selects the variant; exactly one payload field is non-nil. UserID is
// the originating user and Timestamp is assigned by the server at
// publish time. The timestamp carries no ordering guarantee beyond
// FIFO per origin connection.
type MutationEvent struct {
	Kind      EventKind `json:"kind"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`

	Element     *Element               `json:"element,omitempty"`
	Deleted     *ElementDeletedPayload `json:"deleted,omitempty"`
	VoteAdded   *VoteAddedPayload      `json:"voteAdded,omitempty"`
	VoteRemoved *VoteRemovedPayload    `json:"voteRemoved,omitempty"`
	Cursor      *CursorPayload         `json:"cursor,omitempty"`
}

// NewElementCreated builds an ElementCreated event.
func NewElementCreated(userID string, el *Element) *MutationEvent {
	return &MutationEvent{Kind: EventElementCreated, UserID: userID, Element: el}
}

// NewElementUpdated builds an ElementUpdated event.
func NewElementUpdated(userID string, el *Element) *MutationEvent {
	return &MutationEvent{Kind: EventElementUpdated, UserID: userID, Element: el}
}

// NewElementDeleted builds an ElementDeleted event.
func NewElementDeleted(userID, elementID string) *MutationEvent {
	return &MutationEvent{
		Kind:    EventElementDeleted,
		UserID:  userID,
		Deleted: &ElementDeletedPayload{ElementID: elementID},
	}
}

// NewVoteAdded builds a VoteAdded event.
func NewVoteAdded(userID string, elementID string, vote Vote) *MutationEvent {
	return &MutationEvent{
		Kind:      EventVoteAdded,
		UserID:    userID,
		VoteAdded: &VoteAddedPayload{ElementID: elementID, Vote: vote},
	}
}

// NewVoteRemoved builds a VoteRemoved event.
func NewVoteRemoved(userID, elementID, voterID string) *MutationEvent {
	return &MutationEvent{
		Kind:        EventVoteRemoved,
		UserID:      userID,
		VoteRemoved: &VoteRemovedPayload{ElementID: elementID, UserID: voterID},
	}
}

// NewCursorMoved builds a CursorMoved event.
func NewCursorMoved(userID, displayName string, pos Position) *MutationEvent {
	return &MutationEvent{
		Kind:   EventCursorMoved,
		UserID: userID,
		Cursor: &CursorPayload{UserID: userID, DisplayName: displayName, Position: pos},
	}
}

// Validate checks that the kind is known and the matching payload is
// populated.
func (e *MutationEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	var ok bool
	switch e.Kind {
	case EventElementCreated, EventElementUpdated:
		ok = e.Element != nil
	case EventElementDeleted:
		ok = e.Deleted != nil && e.Deleted.ElementID != ""
	case EventVoteAdded:
		ok = e.VoteAdded != nil && e.VoteAdded.ElementID != ""
	case EventVoteRemoved:
		ok = e.VoteRemoved != nil && e.VoteRemoved.ElementID != ""
	case EventCursorMoved:
		ok = e.Cursor != nil
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingPayload, e.Kind)
	}
	return nil
}

// TargetElementID returns the element id this event touches, or "" for
// cursor events.
func (e *MutationEvent) TargetElementID() string {
	switch e.Kind {
	case EventElementCreated, EventElementUpdated:
		if e.Element != nil {
			return e.Element.ID
		}
	case EventElementDeleted:
		if e.Deleted != nil {
			return e.Deleted.ElementID
		}
	case EventVoteAdded:
		if e.VoteAdded != nil {
			return e.VoteAdded.ElementID
		}
	case EventVoteRemoved:
		if e.VoteRemoved != nil {
			return e.VoteRemoved.ElementID
		}
	}
	return ""
}

// DecodeMutationEvent parses and validates a JSON-encoded event.
func DecodeMutationEvent(data []byte) (*MutationEvent, error) {
	var e MutationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("model: decode mutation event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
