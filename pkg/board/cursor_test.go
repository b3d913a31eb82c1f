package board

import (
	"sync"
	"testing"
	"time"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

type cursorRecorder struct {
	mu        sync.Mutex
	positions []model.Position
}

func (r *cursorRecorder) sink(pos model.Position) {
	r.mu.Lock()
	r.positions = append(r.positions, pos)
	r.mu.Unlock()
}

func (r *cursorRecorder) snapshot() []model.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Position, len(r.positions))
	copy(out, r.positions)
	return out
}

func (r *cursorRecorder) waitFor(t *testing.T, n int) []model.Position {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d emissions, have %d", n, len(r.snapshot()))
	return nil
}

func TestCursorBroadcasterImmediateFirstEmit(t *testing.T) {
	rec := &cursorRecorder{}
	c := NewCursorBroadcaster(50*time.Millisecond, rec.sink)
	defer c.Stop()

	c.Offer(model.Position{X: 1, Y: 1})

	got := rec.snapshot()
	if len(got) != 1 || got[0].X != 1 {
		t.Fatalf("first offer should emit synchronously, got %v", got)
	}
}

func TestCursorBroadcasterCoalescesToLatest(t *testing.T) {
	rec := &cursorRecorder{}
	c := NewCursorBroadcaster(60*time.Millisecond, rec.sink)
	defer c.Stop()

	c.Offer(model.Position{X: 1, Y: 1})
	// Burst inside the throttle window: only the last survives.
	for i := 2; i <= 10; i++ {
		c.Offer(model.Position{X: float64(i), Y: float64(i)})
	}

	got := rec.waitFor(t, 2)
	if len(got) != 2 {
		t.Fatalf("emissions = %d, want 2 (immediate + flushed latest)", len(got))
	}
	if got[1].X != 10 {
		t.Errorf("flushed position = %+v, want the latest (10,10)", got[1])
	}
}

func TestCursorBroadcasterFinalPositionAlwaysFlushes(t *testing.T) {
	rec := &cursorRecorder{}
	c := NewCursorBroadcaster(30*time.Millisecond, rec.sink)
	defer c.Stop()

	c.Offer(model.Position{X: 1, Y: 1})
	c.Offer(model.Position{X: 99, Y: 99})

	got := rec.waitFor(t, 2)
	last := got[len(got)-1]
	if last.X != 99 || last.Y != 99 {
		t.Errorf("final position = %+v, want (99,99)", last)
	}
}

func TestCursorBroadcasterEmitsAfterWindow(t *testing.T) {
	rec := &cursorRecorder{}
	c := NewCursorBroadcaster(10*time.Millisecond, rec.sink)
	defer c.Stop()

	c.Offer(model.Position{X: 1, Y: 1})
	time.Sleep(20 * time.Millisecond)
	c.Offer(model.Position{X: 2, Y: 2})

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("emissions = %d, want 2 (second offer is outside the window)", len(got))
	}
}

func TestCursorBroadcasterStop(t *testing.T) {
	rec := &cursorRecorder{}
	c := NewCursorBroadcaster(50*time.Millisecond, rec.sink)

	c.Offer(model.Position{X: 1, Y: 1})
	c.Offer(model.Position{X: 2, Y: 2}) // held
	c.Stop()
	c.Offer(model.Position{X: 3, Y: 3}) // ignored

	time.Sleep(80 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 {
		t.Errorf("emissions after Stop = %v, want only the first", got)
	}
}

func TestCursorBroadcasterDefaultInterval(t *testing.T) {
	c := NewCursorBroadcaster(0, func(model.Position) {})
	defer c.Stop()
	if c.interval != DefaultCursorInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultCursorInterval)
	}
}
