package model

import "time"

// ElementType identifies the kind of canvas object.
type ElementType string

// Element type constants.
const (
	ElementStickyNote ElementType = "sticky_note"
	ElementText       ElementType = "text"
	ElementShape      ElementType = "shape"
	ElementGroup      ElementType = "group"
)

// Valid reports whether the element type is one of the known kinds.
func (t ElementType) Valid() bool {
	switch t {
	case ElementStickyNote, ElementText, ElementShape, ElementGroup:
		return true
	}
	return false
}

// Position is a viewport-relative coordinate pair.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the rendered extent of an element. Both dimensions must be
// positive for a valid element.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Style is an open key-value map of presentation attributes.
// "color" is always present for durable elements.
type Style map[string]string

// Clone returns an independent copy of the style map.
func (s Style) Clone() Style {
	if s == nil {
		return nil
	}
	out := make(Style, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Vote is a single user's vote on an element. The external store
// guarantees at most one active vote per (ElementID, UserID) pair;
// merged lists from relayed events must re-establish that invariant.
type Vote struct {
	ID        string `json:"id"`
	ElementID string `json:"elementId"`
	UserID    string `json:"userId"`
	Type      string `json:"type"`
}

// VoteTypeUpvote is the only vote kind currently defined.
const VoteTypeUpvote = "upvote"

// Element is a durable canvas object. GroupRef is a back-reference to a
// containing group element, never an ownership edge.
type Element struct {
	ID        string      `json:"id"`
	Type      ElementType `json:"type"`
	Position  Position    `json:"position"`
	Size      Size        `json:"size"`
	Content   string      `json:"content"`
	Style     Style       `json:"style"`
	GroupRef  string      `json:"groupRef,omitempty"`
	OwnerID   string      `json:"ownerId"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	VoteCount int         `json:"voteCount"`
	Votes     []Vote      `json:"votes,omitempty"`
}

// Clone returns a deep copy of the element. The overlay and relay both
// hand elements across goroutine or ownership boundaries, so aliasing a
// votes slice or style map between copies is never safe.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := *e
	out.Style = e.Style.Clone()
	if e.Votes != nil {
		out.Votes = make([]Vote, len(e.Votes))
		copy(out.Votes, e.Votes)
	}
	return &out
}

// HasVote reports whether the element carries a vote by userID.
func (e *Element) HasVote(userID string) bool {
	for _, v := range e.Votes {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// PresenceEntry describes one live member of a room as reported in
// presence snapshots and join events. Cursor is nil until the member has
// moved their pointer at least once.
type PresenceEntry struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	Cursor      *Position `json:"cursor,omitempty"`
}
