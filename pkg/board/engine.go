package board

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

// Sentinel errors for engine operations.
var (
	// ErrUnknownElement is returned when an operation targets an element
	// the overlay does not hold.
	ErrUnknownElement = errors.New("board: unknown element")

	// ErrElementPending is returned when an operation needs a durable id
	// but the element's create has not confirmed yet.
	ErrElementPending = errors.New("board: element create not yet confirmed")

	// ErrInvalidSize is returned for drafts or deltas with non-positive
	// dimensions.
	ErrInvalidSize = errors.New("board: width and height must be positive")

	// ErrInvalidType is returned for drafts with an unknown element type.
	ErrInvalidType = errors.New("board: unknown element type")
)

// EntityState tags an overlay entry's lifecycle position.
type EntityState int

// Entity states. An element is Pending from optimistic create until the
// durable confirm, Confirmed while stable, and Removing from optimistic
// delete until the durable delete resolves. Deleted entries leave the
// map entirely; deletion is terminal.
const (
	StatePending EntityState = iota
	StateConfirmed
	StateRemoving
)

// String returns the state name.
func (s EntityState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRemoving:
		return "removing"
	default:
		return "unknown"
	}
}

// createDedupWindow bounds how long a pending placeholder is considered
// a match for an authoritative entity arriving by another path.
const createDedupWindow = 10 * time.Second

// entry is one overlay slot: the element plus the bookkeeping the merge
// rules need.
type entry struct {
	el    *model.Element
	state EntityState

	// Create de-duplication key: the draft's type and position plus the
	// staging time bucket.
	dedupType model.ElementType
	dedupPos  model.Position
	stagedAt  time.Time

	// lastLocalEdit is when the local user last changed a structural
	// field; lastVoteActivity is the most recent known vote mutation
	// from either side. Vote and structural mutations travel on
	// independent request paths and must not clobber each other.
	lastLocalEdit    time.Time
	lastVoteActivity time.Time
}

// BroadcastFunc receives confirmed mutations for relay to peers. It is
// invoked on the owner loop, only after the durable write confirms.
type BroadcastFunc func(*model.MutationEvent)

// ErrorFunc surfaces durable-write failures to the UI layer. The engine
// has already performed the corresponding rollback when it is called.
type ErrorFunc func(op, elementID string, err error)

// Engine is the client-side reconciliation engine. It is not safe for
// concurrent use: all methods, and every completion posted through the
// dispatch function, must run on the single goroutine that owns it.
type Engine struct {
	userID   string
	store    DurableStore
	dispatch func(func())
	logger   *slog.Logger
	now      func() time.Time

	broadcast BroadcastFunc
	onError   ErrorFunc

	entries map[string]*entry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBroadcast sets the confirmed-mutation sink.
func WithBroadcast(fn BroadcastFunc) EngineOption {
	return func(e *Engine) { e.broadcast = fn }
}

// WithErrorSink sets the durable-failure sink.
func WithErrorSink(fn ErrorFunc) EngineOption {
	return func(e *Engine) { e.onError = fn }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger.With("component", "board_engine") }
}

// WithClock replaces the engine's clock. For tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine for the given local user. dispatch must
// post the given function onto the goroutine that owns the engine; a
// synchronous func(f func()) { f() } works when the caller drives the
// engine single-threaded.
func NewEngine(userID string, store DurableStore, dispatch func(func()), opts ...EngineOption) *Engine {
	e := &Engine{
		userID:    userID,
		store:     store,
		dispatch:  dispatch,
		logger:    slog.Default().With("component", "board_engine"),
		now:       time.Now,
		broadcast: func(*model.MutationEvent) {},
		onError:   func(string, string, error) {},
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Elements returns the observable merged element list: every entry not
// optimistically removed, deep-copied, ordered by creation time then id.
func (e *Engine) Elements() []model.Element {
	out := make([]model.Element, 0, len(e.entries))
	for _, ent := range e.entries {
		if ent.state == StateRemoving {
			continue
		}
		out = append(out, *ent.el.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of the element and its state tag.
func (e *Engine) Get(id string) (*model.Element, EntityState, bool) {
	ent, ok := e.entries[id]
	if !ok {
		return nil, 0, false
	}
	return ent.el.Clone(), ent.state, true
}

// CreateElement inserts an optimistic placeholder and issues the durable
// create. It returns the placeholder's temporary id immediately; the
// entry is re-keyed to the authoritative id on confirm.
func (e *Engine) CreateElement(ctx context.Context, draft ElementDraft) (string, error) {
	if !draft.Type.Valid() {
		return "", ErrInvalidType
	}
	if !draft.Size.Valid() {
		return "", ErrInvalidSize
	}

	now := e.now()
	tempID := uuid.NewString()
	placeholder := &model.Element{
		ID:        tempID,
		Type:      draft.Type,
		Position:  draft.Position,
		Size:      draft.Size,
		Content:   draft.Content,
		Style:     draft.Style.Clone(),
		GroupRef:  draft.GroupRef,
		OwnerID:   e.userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.entries[tempID] = &entry{
		el:            placeholder,
		state:         StatePending,
		dedupType:     draft.Type,
		dedupPos:      draft.Position,
		stagedAt:      now,
		lastLocalEdit: now,
	}

	go func() {
		el, err := e.store.CreateElement(ctx, draft)
		e.dispatch(func() { e.finishCreate(tempID, el, err) })
	}()

	return tempID, nil
}

func (e *Engine) finishCreate(tempID string, el *model.Element, err error) {
	if err != nil {
		if ent, ok := e.entries[tempID]; ok && ent.state == StatePending {
			delete(e.entries, tempID)
		}
		e.onError("create_element", tempID, err)
		return
	}

	// The authoritative entity may already be here: a snapshot refresh
	// or relayed echo can land before the create response. Prefer it and
	// drop the placeholder without error.
	if existing, ok := e.entries[el.ID]; ok {
		delete(e.entries, tempID)
		e.mergeAuthoritative(existing, el)
		existing.state = StateConfirmed
		e.broadcast(model.NewElementCreated(e.userID, existing.el.Clone()))
		return
	}

	ent, ok := e.entries[tempID]
	if !ok {
		// Placeholder already replaced or removed; fall back to the
		// de-duplication key before inserting a second copy.
		ent = e.findPendingByDedup(el)
	}
	if ent != nil && ent.el.ID != el.ID {
		delete(e.entries, ent.el.ID)
	}
	if ent == nil {
		ent = &entry{}
	}

	votes := ent.lastVoteActivity
	ent.el = el.Clone()
	ent.state = StateConfirmed
	ent.lastVoteActivity = votes
	e.entries[el.ID] = ent

	e.broadcast(model.NewElementCreated(e.userID, ent.el.Clone()))
}

// findPendingByDedup matches an authoritative element against pending
// placeholders by the create request's de-duplication key.
func (e *Engine) findPendingByDedup(el *model.Element) *entry {
	now := e.now()
	for _, ent := range e.entries {
		if ent.state != StatePending {
			continue
		}
		if ent.dedupType != el.Type {
			continue
		}
		if !samePosition(ent.dedupPos, el.Position) {
			continue
		}
		if now.Sub(ent.stagedAt) > createDedupWindow {
			continue
		}
		return ent
	}
	return nil
}

func samePosition(a, b model.Position) bool {
	const eps = 0.5
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps
}

// UpdateElement applies the delta to the overlay immediately and issues
// the durable update. On failure the touched fields roll back to their
// pre-update values; a NotFound removes the entity instead.
func (e *Engine) UpdateElement(ctx context.Context, id string, delta ElementDelta) error {
	ent, ok := e.entries[id]
	if !ok || ent.state == StateRemoving {
		return ErrUnknownElement
	}
	if ent.state == StatePending {
		return ErrElementPending
	}
	if delta.Empty() {
		return nil
	}
	if delta.Size != nil && !delta.Size.Valid() {
		return ErrInvalidSize
	}

	snapshot := captureTouched(ent.el, delta)
	applyDelta(ent.el, delta)
	now := e.now()
	ent.el.UpdatedAt = now
	ent.lastLocalEdit = now
	stagedAt := now

	go func() {
		el, err := e.store.UpdateElement(ctx, id, delta)
		e.dispatch(func() { e.finishUpdate(id, snapshot, stagedAt, el, err) })
	}()

	return nil
}

func (e *Engine) finishUpdate(id string, snapshot *touchedFields, stagedAt time.Time, el *model.Element, err error) {
	ent, ok := e.entries[id]

	if err != nil {
		if IsNotFound(err) {
			// Deleted concurrently: drop it rather than resurrect a
			// stale copy.
			delete(e.entries, id)
		} else if ok {
			restoreTouched(ent.el, snapshot)
		}
		e.onError("update_element", id, err)
		return
	}

	if ok {
		// Structural fields: keep the overlay's values when a newer
		// local edit landed after this request was staged, otherwise
		// take the authoritative response.
		if ent.lastLocalEdit.After(stagedAt) {
			if structuralDiffers(ent.el, el) {
				e.logger.Debug("merge ambiguity: overlay newer than update response",
					"element_id", id)
			}
		} else {
			copyStructural(ent.el, el)
		}
		e.mergeVotes(ent, el)
		if el.UpdatedAt.After(ent.el.UpdatedAt) {
			ent.el.UpdatedAt = el.UpdatedAt
		}
	}

	e.broadcast(model.NewElementUpdated(e.userID, el.Clone()))
}

// DeleteElement removes the element optimistically and issues the
// durable delete. On failure the element is restored.
func (e *Engine) DeleteElement(ctx context.Context, id string) error {
	ent, ok := e.entries[id]
	if !ok || ent.state == StateRemoving {
		return ErrUnknownElement
	}
	if ent.state == StatePending {
		return ErrElementPending
	}

	ent.state = StateRemoving

	go func() {
		err := e.store.DeleteElement(ctx, id)
		e.dispatch(func() { e.finishDelete(id, err) })
	}()

	return nil
}

func (e *Engine) finishDelete(id string, err error) {
	ent, ok := e.entries[id]

	if err != nil && !IsNotFound(err) {
		if ok {
			ent.state = StateConfirmed
		}
		e.onError("delete_element", id, err)
		return
	}

	delete(e.entries, id)
	if err != nil {
		// Already gone remotely; local removal stands, nothing to relay.
		return
	}
	e.broadcast(model.NewElementDeleted(e.userID, id))
}

// AddVote adds the local user's vote optimistically and issues the
// durable vote. Votes de-duplicate by (elementID, userID): voting on an
// element the user already voted on is a no-op.
func (e *Engine) AddVote(ctx context.Context, elementID string) error {
	ent, ok := e.entries[elementID]
	if !ok || ent.state == StateRemoving {
		return ErrUnknownElement
	}
	if ent.state == StatePending {
		return ErrElementPending
	}
	if ent.el.HasVote(e.userID) {
		return nil
	}

	ent.el.Votes = append(ent.el.Votes, model.Vote{
		ID:        uuid.NewString(),
		ElementID: elementID,
		UserID:    e.userID,
		Type:      model.VoteTypeUpvote,
	})
	ent.el.VoteCount = len(ent.el.Votes)
	ent.lastVoteActivity = e.now()

	go func() {
		vote, err := e.store.AddVote(ctx, elementID)
		e.dispatch(func() { e.finishAddVote(elementID, vote, err) })
	}()

	return nil
}

func (e *Engine) finishAddVote(elementID string, vote *model.Vote, err error) {
	ent, ok := e.entries[elementID]

	if err != nil {
		if IsNotFound(err) {
			delete(e.entries, elementID)
		} else if ok {
			removeVoteBy(ent, e.userID)
		}
		e.onError("add_vote", elementID, err)
		return
	}

	if ok {
		// Replace the optimistic placeholder with the authoritative
		// vote; the pair key keeps it exactly once even if a relayed
		// echo landed first.
		removeVoteBy(ent, vote.UserID)
		ent.el.Votes = append(ent.el.Votes, *vote)
		ent.el.VoteCount = len(ent.el.Votes)
		ent.lastVoteActivity = e.now()
	}

	e.broadcast(model.NewVoteAdded(e.userID, elementID, *vote))
}

// RemoveVote removes the local user's vote optimistically and issues
// the durable removal. Removing an absent vote is a no-op.
func (e *Engine) RemoveVote(ctx context.Context, elementID string) error {
	ent, ok := e.entries[elementID]
	if !ok || ent.state == StateRemoving {
		return ErrUnknownElement
	}
	if ent.state == StatePending {
		return ErrElementPending
	}

	removed := takeVoteBy(ent, e.userID)
	if removed == nil {
		return nil
	}
	ent.lastVoteActivity = e.now()

	go func() {
		err := e.store.RemoveVote(ctx, elementID)
		e.dispatch(func() { e.finishRemoveVote(elementID, *removed, err) })
	}()

	return nil
}

func (e *Engine) finishRemoveVote(elementID string, removed model.Vote, err error) {
	ent, ok := e.entries[elementID]

	if err != nil {
		if IsNotFound(err) {
			delete(e.entries, elementID)
		} else if ok && !ent.el.HasVote(removed.UserID) {
			ent.el.Votes = append(ent.el.Votes, removed)
			ent.el.VoteCount = len(ent.el.Votes)
		}
		e.onError("remove_vote", elementID, err)
		return
	}

	if ok {
		ent.lastVoteActivity = e.now()
	}
	e.broadcast(model.NewVoteRemoved(e.userID, elementID, removed.UserID))
}

// Refresh fetches a fresh authoritative snapshot and merges it into the
// overlay on the owner loop.
func (e *Engine) Refresh(ctx context.Context, projectID string) {
	go func() {
		els, err := e.store.ListElements(ctx, projectID)
		e.dispatch(func() {
			if err != nil {
				e.onError("list_elements", "", err)
				return
			}
			e.ApplySnapshot(els)
		})
	}()
}

// ApplySnapshot merges a fresh authoritative snapshot into the overlay.
// Entities present only in the snapshot are added; entities present
// only in the overlay are kept, as pending confirmations or very recent
// remote deletes that the relay will announce explicitly.
func (e *Engine) ApplySnapshot(elements []model.Element) {
	for i := range elements {
		el := &elements[i]
		ent, ok := e.entries[el.ID]
		if !ok {
			e.entries[el.ID] = &entry{el: el.Clone(), state: StateConfirmed}
			continue
		}
		if ent.state == StateRemoving {
			// Snapshot may predate the optimistic delete; keep it hidden
			// until the durable delete resolves.
			continue
		}
		e.mergeAuthoritative(ent, el)
	}
}

// ApplyPeerEvent merges one relayed event into the overlay. Events
// originated by the local user are ignored even though the relay
// already excludes the origin session; reconnect races can produce
// echoes, so the origin filter is applied again here.
func (e *Engine) ApplyPeerEvent(ev *model.MutationEvent) {
	if ev == nil || ev.UserID == e.userID {
		return
	}

	switch ev.Kind {
	case model.EventElementCreated, model.EventElementUpdated:
		el := ev.Element
		if el == nil {
			return
		}
		ent, ok := e.entries[el.ID]
		if !ok {
			e.entries[el.ID] = &entry{el: el.Clone(), state: StateConfirmed}
			return
		}
		if ent.state == StateRemoving {
			return
		}
		e.mergeAuthoritative(ent, el)

	case model.EventElementDeleted:
		delete(e.entries, ev.Deleted.ElementID)

	case model.EventVoteAdded:
		ent, ok := e.entries[ev.VoteAdded.ElementID]
		if !ok {
			return
		}
		vote := ev.VoteAdded.Vote
		if ent.el.HasVote(vote.UserID) {
			// Same (elementID, userID) pair already present, whether
			// from a prior delivery or a local confirmation.
			return
		}
		ent.el.Votes = append(ent.el.Votes, vote)
		ent.el.VoteCount = len(ent.el.Votes)
		ent.lastVoteActivity = e.now()

	case model.EventVoteRemoved:
		ent, ok := e.entries[ev.VoteRemoved.ElementID]
		if !ok {
			return
		}
		removeVoteBy(ent, ev.VoteRemoved.UserID)
		ent.lastVoteActivity = e.now()
	}
}

// mergeAuthoritative merges an authoritative element (snapshot entry or
// relayed entity) into an overlay entry. Structural fields take the
// fresher side: the overlay wins only when the local user edited after
// the authoritative copy's update time. Vote state follows whichever
// side saw vote activity most recently.
func (e *Engine) mergeAuthoritative(ent *entry, el *model.Element) {
	if ent.lastLocalEdit.After(el.UpdatedAt) {
		if structuralDiffers(ent.el, el) {
			e.logger.Debug("merge ambiguity: overlay newer than authoritative copy",
				"element_id", el.ID)
		}
	} else {
		copyStructural(ent.el, el)
	}

	e.mergeVotes(ent, el)

	ent.el.ID = el.ID
	ent.el.OwnerID = el.OwnerID
	ent.el.CreatedAt = el.CreatedAt
	if el.UpdatedAt.After(ent.el.UpdatedAt) {
		ent.el.UpdatedAt = el.UpdatedAt
	}
}

// mergeVotes applies the vote preservation rule: the overlay's vote list
// survives when it has seen vote activity more recently than the
// authoritative copy was updated.
func (e *Engine) mergeVotes(ent *entry, el *model.Element) {
	if ent.lastVoteActivity.After(el.UpdatedAt) {
		return
	}
	ent.el.Votes = make([]model.Vote, len(el.Votes))
	copy(ent.el.Votes, el.Votes)
	dedupVotes(ent.el)
	if ent.el.VoteCount != len(ent.el.Votes) {
		ent.el.VoteCount = len(ent.el.Votes)
	}
}

func copyStructural(dst, src *model.Element) {
	dst.Type = src.Type
	dst.Position = src.Position
	dst.Size = src.Size
	dst.Content = src.Content
	dst.Style = src.Style.Clone()
	dst.GroupRef = src.GroupRef
}

func structuralDiffers(a, b *model.Element) bool {
	if a.Position != b.Position || a.Size != b.Size || a.Content != b.Content || a.GroupRef != b.GroupRef {
		return true
	}
	if len(a.Style) != len(b.Style) {
		return true
	}
	for k, v := range a.Style {
		if b.Style[k] != v {
			return true
		}
	}
	return false
}

// dedupVotes enforces at most one vote per (elementID, userID) pair.
// The store guarantees this, but merged lists must not assume it.
func dedupVotes(el *model.Element) {
	seen := make(map[string]struct{}, len(el.Votes))
	kept := el.Votes[:0]
	for _, v := range el.Votes {
		if _, dup := seen[v.UserID]; dup {
			continue
		}
		seen[v.UserID] = struct{}{}
		kept = append(kept, v)
	}
	el.Votes = kept
}

func removeVoteBy(ent *entry, userID string) {
	kept := ent.el.Votes[:0]
	for _, v := range ent.el.Votes {
		if v.UserID != userID {
			kept = append(kept, v)
		}
	}
	ent.el.Votes = kept
	ent.el.VoteCount = len(kept)
}

func takeVoteBy(ent *entry, userID string) *model.Vote {
	for i, v := range ent.el.Votes {
		if v.UserID == userID {
			removed := v
			ent.el.Votes = append(ent.el.Votes[:i], ent.el.Votes[i+1:]...)
			ent.el.VoteCount = len(ent.el.Votes)
			return &removed
		}
	}
	return nil
}

// touchedFields records the pre-update values of exactly the fields a
// delta touches, for rollback.
type touchedFields struct {
	position *model.Position
	size     *model.Size
	content  *string
	style    model.Style
	groupRef *string
}

func captureTouched(el *model.Element, delta ElementDelta) *touchedFields {
	t := &touchedFields{}
	if delta.Position != nil {
		p := el.Position
		t.position = &p
	}
	if delta.Size != nil {
		s := el.Size
		t.size = &s
	}
	if delta.Content != nil {
		c := el.Content
		t.content = &c
	}
	if delta.Style != nil {
		t.style = el.Style.Clone()
		if t.style == nil {
			t.style = model.Style{}
		}
	}
	if delta.GroupRef != nil {
		g := el.GroupRef
		t.groupRef = &g
	}
	return t
}

func applyDelta(el *model.Element, delta ElementDelta) {
	if delta.Position != nil {
		el.Position = *delta.Position
	}
	if delta.Size != nil {
		el.Size = *delta.Size
	}
	if delta.Content != nil {
		el.Content = *delta.Content
	}
	if delta.Style != nil {
		if el.Style == nil {
			el.Style = model.Style{}
		}
		for k, v := range delta.Style {
			el.Style[k] = v
		}
	}
	if delta.GroupRef != nil {
		el.GroupRef = *delta.GroupRef
	}
}

func restoreTouched(el *model.Element, t *touchedFields) {
	if t.position != nil {
		el.Position = *t.position
	}
	if t.size != nil {
		el.Size = *t.size
	}
	if t.content != nil {
		el.Content = *t.content
	}
	if t.style != nil {
		el.Style = t.style.Clone()
	}
	if t.groupRef != nil {
		el.GroupRef = *t.groupRef
	}
}
