package board

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore answers durable calls from configurable functions. The
// zero value confirms everything with echoes of the request.
type fakeStore struct {
	mu sync.Mutex

	createFn     func(ElementDraft) (*model.Element, error)
	updateFn     func(string, ElementDelta) (*model.Element, error)
	deleteFn     func(string) error
	addVoteFn    func(string) (*model.Vote, error)
	removeVoteFn func(string) error
	listFn       func(string) ([]model.Element, error)

	nextID int
}

func (s *fakeStore) CreateElement(_ context.Context, draft ElementDraft) (*model.Element, error) {
	s.mu.Lock()
	fn := s.createFn
	s.nextID++
	n := s.nextID
	s.mu.Unlock()
	if fn != nil {
		return fn(draft)
	}
	return &model.Element{
		ID:        serverID(n),
		Type:      draft.Type,
		Position:  draft.Position,
		Size:      draft.Size,
		Content:   draft.Content,
		Style:     draft.Style.Clone(),
		GroupRef:  draft.GroupRef,
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (s *fakeStore) UpdateElement(_ context.Context, id string, delta ElementDelta) (*model.Element, error) {
	s.mu.Lock()
	fn := s.updateFn
	s.mu.Unlock()
	if fn != nil {
		return fn(id, delta)
	}
	el := &model.Element{ID: id, Type: model.ElementStickyNote, Size: model.Size{Width: 1, Height: 1}}
	applyDelta(el, delta)
	return el, nil
}

func (s *fakeStore) DeleteElement(_ context.Context, id string) error {
	s.mu.Lock()
	fn := s.deleteFn
	s.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return nil
}

func (s *fakeStore) AddVote(_ context.Context, elementID string) (*model.Vote, error) {
	s.mu.Lock()
	fn := s.addVoteFn
	s.mu.Unlock()
	if fn != nil {
		return fn(elementID)
	}
	return &model.Vote{ID: "vote-srv", ElementID: elementID, UserID: "local", Type: model.VoteTypeUpvote}, nil
}

func (s *fakeStore) RemoveVote(_ context.Context, elementID string) error {
	s.mu.Lock()
	fn := s.removeVoteFn
	s.mu.Unlock()
	if fn != nil {
		return fn(elementID)
	}
	return nil
}

func (s *fakeStore) ListElements(_ context.Context, projectID string) ([]model.Element, error) {
	s.mu.Lock()
	fn := s.listFn
	s.mu.Unlock()
	if fn != nil {
		return fn(projectID)
	}
	return nil, nil
}

func serverID(n int) string {
	return "srv-" + string(rune('a'+n-1))
}

type opError struct {
	op        string
	elementID string
	err       error
}

// fixture drives the engine from the test goroutine. Store completions
// arrive on the dispatch channel and are run by step().
type fixture struct {
	t        *testing.T
	store    *fakeStore
	eng      *Engine
	dispatch chan func()

	clockMu sync.Mutex
	clock   time.Time

	broadcasts []*model.MutationEvent
	errs       []opError
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    &fakeStore{},
		dispatch: make(chan func(), 32),
		clock:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.eng = NewEngine("local", f.store, func(fn func()) { f.dispatch <- fn },
		WithLogger(testLogger()),
		WithClock(f.now),
		WithBroadcast(func(ev *model.MutationEvent) { f.broadcasts = append(f.broadcasts, ev) }),
		WithErrorSink(func(op, id string, err error) {
			f.errs = append(f.errs, opError{op: op, elementID: id, err: err})
		}),
	)
	return f
}

func (f *fixture) now() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.clockMu.Lock()
	f.clock = f.clock.Add(d)
	f.clockMu.Unlock()
}

// step runs the next posted completion on the test goroutine.
func (f *fixture) step() {
	f.t.Helper()
	select {
	case fn := <-f.dispatch:
		fn()
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for dispatched completion")
	}
}

func draft() ElementDraft {
	return ElementDraft{
		ProjectID: "p1",
		Type:      model.ElementStickyNote,
		Position:  model.Position{X: 100, Y: 200},
		Size:      model.Size{Width: 160, Height: 120},
		Content:   "hello",
		Style:     model.Style{"color": "#ffd700"},
	}
}

// confirmed creates one element and runs its confirmation, returning
// the authoritative id.
func (f *fixture) confirmed() string {
	f.t.Helper()
	before := make(map[string]bool, len(f.eng.entries))
	for id := range f.eng.entries {
		before[id] = true
	}
	if _, err := f.eng.CreateElement(context.Background(), draft()); err != nil {
		f.t.Fatalf("CreateElement: %v", err)
	}
	f.step()
	for id, ent := range f.eng.entries {
		if !before[id] && ent.state == StateConfirmed {
			return id
		}
	}
	f.t.Fatal("no confirmed element after create")
	return ""
}

func TestCreateElementOptimistic(t *testing.T) {
	f := newFixture(t)

	tempID, err := f.eng.CreateElement(context.Background(), draft())
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	// Visible immediately under the temporary id, tagged Pending.
	el, state, ok := f.eng.Get(tempID)
	if !ok {
		t.Fatal("placeholder not visible before confirm")
	}
	if state != StatePending {
		t.Errorf("state = %v, want pending", state)
	}
	if el.Content != "hello" || el.OwnerID != "local" {
		t.Errorf("placeholder fields wrong: %+v", el)
	}
	if len(f.broadcasts) != 0 {
		t.Error("nothing may be broadcast before the durable confirm")
	}

	f.step()

	// Re-keyed to the authoritative id, exactly one entry.
	if _, _, ok := f.eng.Get(tempID); ok {
		t.Error("temporary id should be gone after confirm")
	}
	els := f.eng.Elements()
	if len(els) != 1 {
		t.Fatalf("Elements() = %d entries, want 1", len(els))
	}
	if _, state, _ := f.eng.Get(els[0].ID); state != StateConfirmed {
		t.Errorf("state after confirm = %v, want confirmed", state)
	}
	if len(f.broadcasts) != 1 || f.broadcasts[0].Kind != model.EventElementCreated {
		t.Fatalf("broadcasts = %+v, want one element_created", f.broadcasts)
	}
}

func TestCreateElementValidation(t *testing.T) {
	f := newFixture(t)

	bad := draft()
	bad.Type = "hologram"
	if _, err := f.eng.CreateElement(context.Background(), bad); !errors.Is(err, ErrInvalidType) {
		t.Errorf("unknown type error = %v, want ErrInvalidType", err)
	}

	bad = draft()
	bad.Size = model.Size{Width: 0, Height: 10}
	if _, err := f.eng.CreateElement(context.Background(), bad); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("zero width error = %v, want ErrInvalidSize", err)
	}

	if len(f.eng.Elements()) != 0 {
		t.Error("rejected drafts must not stage placeholders")
	}
}

func TestCreateElementFailureDropsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.store.createFn = func(ElementDraft) (*model.Element, error) {
		return nil, &StoreError{Class: ClassTransient, Op: "create_element", Message: "boom"}
	}

	tempID, err := f.eng.CreateElement(context.Background(), draft())
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	f.step()

	if _, _, ok := f.eng.Get(tempID); ok {
		t.Error("placeholder must be dropped after create failure")
	}
	if len(f.errs) != 1 || f.errs[0].op != "create_element" {
		t.Fatalf("errs = %+v", f.errs)
	}
	if len(f.broadcasts) != 0 {
		t.Error("failed create must not broadcast")
	}
}

func TestCreateConfirmAfterSnapshotDedups(t *testing.T) {
	f := newFixture(t)

	tempID, err := f.eng.CreateElement(context.Background(), draft())
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	// A snapshot refresh delivers the authoritative entity before the
	// create response comes back.
	f.eng.ApplySnapshot([]model.Element{{
		ID:        "srv-a",
		Type:      model.ElementStickyNote,
		Position:  model.Position{X: 100, Y: 200},
		Size:      model.Size{Width: 160, Height: 120},
		Content:   "hello",
		UpdatedAt: f.now(),
	}})

	f.step()

	if _, _, ok := f.eng.Get(tempID); ok {
		t.Error("placeholder must collapse into the snapshot entity")
	}
	els := f.eng.Elements()
	if len(els) != 1 || els[0].ID != "srv-a" {
		t.Fatalf("Elements() = %+v, want single srv-a", els)
	}
}

func TestCreateConfirmAfterPlaceholderReplacedUsesDedupKey(t *testing.T) {
	f := newFixture(t)

	if _, err := f.eng.CreateElement(context.Background(), draft()); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	// Simulate the placeholder having been re-keyed by an earlier merge
	// path: move the pending entry under a different id.
	var ent *entry
	for id, e := range f.eng.entries {
		ent = e
		delete(f.eng.entries, id)
	}
	ent.el.ID = "rekeyed"
	f.eng.entries["rekeyed"] = ent

	f.step()

	els := f.eng.Elements()
	if len(els) != 1 {
		t.Fatalf("Elements() = %d entries, want 1 (dedup key must match)", len(els))
	}
	if els[0].ID != "srv-a" {
		t.Errorf("surviving id = %q, want srv-a", els[0].ID)
	}
}

func TestUpdateElementRollback(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	f.store.updateFn = func(string, ElementDelta) (*model.Element, error) {
		return nil, &StoreError{Class: ClassTransient, Op: "update_element", Status: 500, Message: "db down"}
	}

	newPos := model.Position{X: 300, Y: 400}
	newContent := "edited"
	err := f.eng.UpdateElement(context.Background(), id, ElementDelta{
		Position: &newPos,
		Content:  &newContent,
	})
	if err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}

	// Applied optimistically.
	el, _, _ := f.eng.Get(id)
	if el.Position != newPos || el.Content != "edited" {
		t.Fatalf("optimistic update not applied: %+v", el)
	}

	f.step()

	// Exactly the touched fields roll back.
	el, _, _ = f.eng.Get(id)
	if el.Position != (model.Position{X: 100, Y: 200}) {
		t.Errorf("position not rolled back: %+v", el.Position)
	}
	if el.Content != "hello" {
		t.Errorf("content not rolled back: %q", el.Content)
	}
	if el.Style["color"] != "#ffd700" {
		t.Errorf("untouched style must survive rollback: %v", el.Style)
	}
	if len(f.errs) != 1 || f.errs[0].op != "update_element" {
		t.Fatalf("errs = %+v", f.errs)
	}
	if len(f.broadcasts) != 1 {
		t.Error("failed update must not broadcast beyond the create")
	}
}

func TestUpdateElementRollbackPreservesLaterEdits(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	// The position update fails; the content update confirms with the
	// durable copy (which never saw the failed position change).
	f.store.updateFn = func(_ string, delta ElementDelta) (*model.Element, error) {
		if delta.Position != nil {
			return nil, &StoreError{Class: ClassTransient, Op: "update_element", Message: "flake"}
		}
		el := &model.Element{
			ID: id, Type: model.ElementStickyNote,
			Position: model.Position{X: 100, Y: 200},
			Size:     model.Size{Width: 160, Height: 120},
		}
		applyDelta(el, delta)
		return el, nil
	}

	// First update touches position and will fail.
	pos := model.Position{X: 10, Y: 10}
	if err := f.eng.UpdateElement(context.Background(), id, ElementDelta{Position: &pos}); err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}

	// Second update touches content before the first resolves.
	f.advance(time.Millisecond)
	content := "second edit"
	if err := f.eng.UpdateElement(context.Background(), id, ElementDelta{Content: &content}); err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}

	f.step() // first update fails, position rolls back
	f.step() // second update confirms

	el, _, _ := f.eng.Get(id)
	if el.Position != (model.Position{X: 100, Y: 200}) {
		t.Errorf("failed update's position not rolled back: %+v", el.Position)
	}
	if el.Content != "second edit" {
		t.Errorf("later edit lost by rollback: %q", el.Content)
	}
}

func TestUpdateElementNotFoundRemoves(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	f.store.updateFn = func(string, ElementDelta) (*model.Element, error) {
		return nil, &StoreError{Class: ClassNotFound, Op: "update_element", Status: 404, Message: "gone"}
	}

	content := "whatever"
	if err := f.eng.UpdateElement(context.Background(), id, ElementDelta{Content: &content}); err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}
	f.step()

	if _, _, ok := f.eng.Get(id); ok {
		t.Error("NotFound on update must remove the entity, not resurrect it")
	}
}

func TestUpdateElementGuards(t *testing.T) {
	f := newFixture(t)
	content := "x"

	if err := f.eng.UpdateElement(context.Background(), "missing", ElementDelta{Content: &content}); !errors.Is(err, ErrUnknownElement) {
		t.Errorf("unknown element error = %v", err)
	}

	tempID, _ := f.eng.CreateElement(context.Background(), draft())
	if err := f.eng.UpdateElement(context.Background(), tempID, ElementDelta{Content: &content}); !errors.Is(err, ErrElementPending) {
		t.Errorf("pending element error = %v", err)
	}
	f.step()

	id := f.eng.Elements()[0].ID
	bad := model.Size{Width: -5, Height: 10}
	if err := f.eng.UpdateElement(context.Background(), id, ElementDelta{Size: &bad}); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("invalid size error = %v", err)
	}

	// Empty delta is a no-op rather than a store round trip.
	if err := f.eng.UpdateElement(context.Background(), id, ElementDelta{}); err != nil {
		t.Errorf("empty delta error = %v", err)
	}
}

func TestDeleteElement(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	if err := f.eng.DeleteElement(context.Background(), id); err != nil {
		t.Fatalf("DeleteElement: %v", err)
	}

	// Hidden immediately.
	if len(f.eng.Elements()) != 0 {
		t.Error("removing element must not appear in Elements()")
	}
	// Second delete while in flight is rejected.
	if err := f.eng.DeleteElement(context.Background(), id); !errors.Is(err, ErrUnknownElement) {
		t.Errorf("double delete error = %v", err)
	}

	f.step()

	if _, _, ok := f.eng.Get(id); ok {
		t.Error("entry must be gone after confirmed delete")
	}
	last := f.broadcasts[len(f.broadcasts)-1]
	if last.Kind != model.EventElementDeleted || last.Deleted.ElementID != id {
		t.Errorf("last broadcast = %+v, want element_deleted for %s", last, id)
	}
}

func TestDeleteElementFailureRestores(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	f.store.deleteFn = func(string) error {
		return &StoreError{Class: ClassTransient, Op: "delete_element", Message: "boom"}
	}

	if err := f.eng.DeleteElement(context.Background(), id); err != nil {
		t.Fatalf("DeleteElement: %v", err)
	}
	f.step()

	el, state, ok := f.eng.Get(id)
	if !ok || state != StateConfirmed {
		t.Fatalf("element not restored after failed delete: ok=%v state=%v", ok, state)
	}
	if el.Content != "hello" {
		t.Errorf("restored element mangled: %+v", el)
	}
	if len(f.errs) != 1 || f.errs[0].op != "delete_element" {
		t.Fatalf("errs = %+v", f.errs)
	}
}

func TestDeleteElementNotFoundIsSilent(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()
	created := len(f.broadcasts)

	f.store.deleteFn = func(string) error {
		return &StoreError{Class: ClassNotFound, Op: "delete_element", Status: 404, Message: "gone"}
	}

	if err := f.eng.DeleteElement(context.Background(), id); err != nil {
		t.Fatalf("DeleteElement: %v", err)
	}
	f.step()

	if _, _, ok := f.eng.Get(id); ok {
		t.Error("already-deleted element must stay removed")
	}
	if len(f.errs) != 0 {
		t.Errorf("NotFound delete should not surface an error: %+v", f.errs)
	}
	if len(f.broadcasts) != created {
		t.Error("NotFound delete has nothing to relay")
	}
}

func TestAddVoteDeduplicates(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	if err := f.eng.AddVote(context.Background(), id); err != nil {
		t.Fatalf("AddVote: %v", err)
	}

	el, _, _ := f.eng.Get(id)
	if el.VoteCount != 1 || !el.HasVote("local") {
		t.Fatalf("optimistic vote missing: %+v", el)
	}

	// Voting again before (or after) the confirm is a no-op.
	if err := f.eng.AddVote(context.Background(), id); err != nil {
		t.Fatalf("second AddVote: %v", err)
	}

	f.step()

	el, _, _ = f.eng.Get(id)
	if el.VoteCount != 1 || len(el.Votes) != 1 {
		t.Fatalf("votes after confirm = %+v, want exactly one", el.Votes)
	}
	if el.Votes[0].ID != "vote-srv" {
		t.Errorf("optimistic vote not replaced by authoritative vote: %+v", el.Votes[0])
	}
	select {
	case fn := <-f.dispatch:
		fn()
		t.Fatal("duplicate AddVote must not reach the store")
	default:
	}
}

func TestAddVoteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	f.store.addVoteFn = func(string) (*model.Vote, error) {
		return nil, &StoreError{Class: ClassTransient, Op: "add_vote", Message: "boom"}
	}

	if err := f.eng.AddVote(context.Background(), id); err != nil {
		t.Fatalf("AddVote: %v", err)
	}
	f.step()

	el, _, _ := f.eng.Get(id)
	if el.VoteCount != 0 || el.HasVote("local") {
		t.Errorf("failed vote not rolled back: %+v", el)
	}
}

func TestRemoveVote(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()
	f.eng.AddVote(context.Background(), id)
	f.step()

	if err := f.eng.RemoveVote(context.Background(), id); err != nil {
		t.Fatalf("RemoveVote: %v", err)
	}
	el, _, _ := f.eng.Get(id)
	if el.VoteCount != 0 {
		t.Fatalf("optimistic removal not applied: %+v", el)
	}
	f.step()

	last := f.broadcasts[len(f.broadcasts)-1]
	if last.Kind != model.EventVoteRemoved || last.VoteRemoved.UserID != "local" {
		t.Errorf("last broadcast = %+v, want vote_removed by local", last)
	}

	// Removing an absent vote is a no-op.
	if err := f.eng.RemoveVote(context.Background(), id); err != nil {
		t.Fatalf("no-op RemoveVote: %v", err)
	}
	select {
	case <-f.dispatch:
		t.Fatal("no-op RemoveVote must not reach the store")
	default:
	}
}

func TestRemoveVoteFailureReinstates(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()
	f.eng.AddVote(context.Background(), id)
	f.step()

	f.store.removeVoteFn = func(string) error {
		return &StoreError{Class: ClassTransient, Op: "remove_vote", Message: "boom"}
	}

	if err := f.eng.RemoveVote(context.Background(), id); err != nil {
		t.Fatalf("RemoveVote: %v", err)
	}
	f.step()

	el, _, _ := f.eng.Get(id)
	if el.VoteCount != 1 || !el.HasVote("local") {
		t.Errorf("vote not reinstated after failed removal: %+v", el)
	}
}

func TestTwoPeerVotesAccumulate(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	f.eng.ApplyPeerEvent(model.NewVoteAdded("peer1", id,
		model.Vote{ID: "v1", ElementID: id, UserID: "peer1", Type: model.VoteTypeUpvote}))
	f.eng.ApplyPeerEvent(model.NewVoteAdded("peer2", id,
		model.Vote{ID: "v2", ElementID: id, UserID: "peer2", Type: model.VoteTypeUpvote}))

	el, _, _ := f.eng.Get(id)
	if el.VoteCount != 2 {
		t.Fatalf("VoteCount = %d, want 2", el.VoteCount)
	}

	// A replayed delivery of the same pair changes nothing.
	f.eng.ApplyPeerEvent(model.NewVoteAdded("peer1", id,
		model.Vote{ID: "v1-replay", ElementID: id, UserID: "peer1", Type: model.VoteTypeUpvote}))
	el, _, _ = f.eng.Get(id)
	if el.VoteCount != 2 {
		t.Errorf("VoteCount after replay = %d, want 2", el.VoteCount)
	}
}

func TestDragUpdateKeepsConcurrentPeerVote(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()
	stale := f.now().Add(-time.Second)

	// The drag's update response was computed before the peer vote and
	// carries no votes.
	f.store.updateFn = func(_ string, delta ElementDelta) (*model.Element, error) {
		el := &model.Element{
			ID: id, Type: model.ElementStickyNote,
			Size:      model.Size{Width: 160, Height: 120},
			Content:   "hello",
			UpdatedAt: stale,
		}
		applyDelta(el, delta)
		return el, nil
	}

	pos := model.Position{X: 500, Y: 600}
	if err := f.eng.UpdateElement(context.Background(), id, ElementDelta{Position: &pos}); err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}

	// Peer vote lands while the update is in flight.
	f.advance(10 * time.Millisecond)
	f.eng.ApplyPeerEvent(model.NewVoteAdded("peer1", id,
		model.Vote{ID: "v1", ElementID: id, UserID: "peer1", Type: model.VoteTypeUpvote}))

	f.step()

	el, _, _ := f.eng.Get(id)
	if el.Position != pos {
		t.Errorf("position = %+v, want %+v", el.Position, pos)
	}
	if el.VoteCount != 1 || !el.HasVote("peer1") {
		t.Errorf("peer vote clobbered by update response: %+v", el.Votes)
	}
}

func TestApplySnapshotMerge(t *testing.T) {
	f := newFixture(t)
	id := f.confirmed()

	// Local votes after the snapshot's update time survive the merge;
	// unknown entities are added; the removing entity stays hidden.
	f.eng.AddVote(context.Background(), id)
	f.step()

	victim := f.confirmed()
	f.store.deleteFn = func(string) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	f.eng.DeleteElement(context.Background(), victim)

	f.eng.ApplySnapshot([]model.Element{
		{ID: id, Type: model.ElementStickyNote, Size: model.Size{Width: 160, Height: 120},
			Content: "server copy", UpdatedAt: f.now().Add(-time.Minute)},
		{ID: victim, Type: model.ElementStickyNote, Size: model.Size{Width: 160, Height: 120},
			UpdatedAt: f.now().Add(-time.Minute)},
		{ID: "srv-new", Type: model.ElementText, Size: model.Size{Width: 80, Height: 20},
			Content: "from another client", CreatedAt: f.now(), UpdatedAt: f.now()},
	})

	el, _, _ := f.eng.Get(id)
	if el.VoteCount != 1 {
		t.Errorf("recent local vote lost to stale snapshot: %+v", el.Votes)
	}

	ids := make(map[string]bool)
	for _, el := range f.eng.Elements() {
		ids[el.ID] = true
	}
	if !ids["srv-new"] {
		t.Error("snapshot-only entity not added")
	}
	if ids[victim] {
		t.Error("removing entity must stay hidden through a stale snapshot")
	}

	f.step() // delete confirm
	if _, _, ok := f.eng.Get(victim); ok {
		t.Error("victim must be gone after the delete confirms")
	}
}

func TestApplyPeerEvents(t *testing.T) {
	f := newFixture(t)

	peerEl := &model.Element{
		ID: "peer-el", Type: model.ElementShape,
		Size: model.Size{Width: 50, Height: 50}, Content: "circle",
		UpdatedAt: f.now(),
	}
	f.eng.ApplyPeerEvent(model.NewElementCreated("peer1", peerEl))

	el, state, ok := f.eng.Get("peer-el")
	if !ok || state != StateConfirmed {
		t.Fatalf("peer create not applied: ok=%v state=%v", ok, state)
	}
	if el.Content != "circle" {
		t.Errorf("Content = %q", el.Content)
	}

	updated := peerEl.Clone()
	updated.Content = "square"
	updated.UpdatedAt = f.now().Add(time.Second)
	f.eng.ApplyPeerEvent(model.NewElementUpdated("peer1", updated))
	el, _, _ = f.eng.Get("peer-el")
	if el.Content != "square" {
		t.Errorf("peer update not merged: %q", el.Content)
	}

	f.eng.ApplyPeerEvent(model.NewElementDeleted("peer1", "peer-el"))
	if _, _, ok := f.eng.Get("peer-el"); ok {
		t.Error("peer delete not applied")
	}

	// Events with the local user's id are echoes and must be dropped.
	f.eng.ApplyPeerEvent(model.NewElementCreated("local", peerEl))
	if _, _, ok := f.eng.Get("peer-el"); ok {
		t.Error("local echo must be ignored")
	}
}

func TestElementsOrdering(t *testing.T) {
	f := newFixture(t)

	base := f.now()
	f.eng.ApplySnapshot([]model.Element{
		{ID: "c", Type: model.ElementText, Size: model.Size{Width: 1, Height: 1}, CreatedAt: base.Add(2 * time.Second)},
		{ID: "b", Type: model.ElementText, Size: model.Size{Width: 1, Height: 1}, CreatedAt: base},
		{ID: "a", Type: model.ElementText, Size: model.Size{Width: 1, Height: 1}, CreatedAt: base},
	})

	els := f.eng.Elements()
	if len(els) != 3 {
		t.Fatalf("Elements() = %d, want 3", len(els))
	}
	if els[0].ID != "a" || els[1].ID != "b" || els[2].ID != "c" {
		t.Errorf("order = %s,%s,%s want a,b,c", els[0].ID, els[1].ID, els[2].ID)
	}

	// Mutating the returned copies must not touch the overlay.
	els[0].Content = "tampered"
	if fresh, _, _ := f.eng.Get("a"); fresh.Content == "tampered" {
		t.Error("Elements() must return deep copies")
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	f.store.listFn = func(projectID string) ([]model.Element, error) {
		if projectID != "p1" {
			t.Errorf("projectID = %q, want p1", projectID)
		}
		return []model.Element{{ID: "srv-a", Type: model.ElementText, Size: model.Size{Width: 1, Height: 1}}}, nil
	}

	f.eng.Refresh(context.Background(), "p1")
	f.step()

	if _, _, ok := f.eng.Get("srv-a"); !ok {
		t.Error("refresh result not merged")
	}
}

func TestRefreshFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.store.listFn = func(string) ([]model.Element, error) {
		return nil, &StoreError{Class: ClassTransient, Op: "list_elements", Message: "down"}
	}

	f.eng.Refresh(context.Background(), "p1")
	f.step()

	if len(f.errs) != 1 || f.errs[0].op != "list_elements" {
		t.Fatalf("errs = %+v", f.errs)
	}
}
