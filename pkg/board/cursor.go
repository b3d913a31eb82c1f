package board

import (
	"sync"
	"time"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

// DefaultCursorInterval is the minimum spacing between emitted cursor
// positions.
const DefaultCursorInterval = 40 * time.Millisecond

// CursorBroadcaster throttles cursor emissions independently of the
// input event rate. Positions offered inside the throttle window are
// coalesced to the latest one, and the final position always flushes
// after the window closes, so receivers can treat every emission as the
// authoritative latest position. Intermediate positions are dropped by
// design.
type CursorBroadcaster struct {
	interval time.Duration
	sink     func(model.Position)

	mu      sync.Mutex
	last    time.Time
	pending *model.Position
	timer   *time.Timer
	stopped bool
}

// NewCursorBroadcaster creates a broadcaster emitting through sink at
// most once per interval. A non-positive interval uses
// DefaultCursorInterval.
func NewCursorBroadcaster(interval time.Duration, sink func(model.Position)) *CursorBroadcaster {
	if interval <= 0 {
		interval = DefaultCursorInterval
	}
	return &CursorBroadcaster{interval: interval, sink: sink}
}

// Offer submits the latest cursor position. Outside the throttle window
// it emits immediately; inside, the position is held (replacing any
// earlier held position) and flushed when the window closes.
func (c *CursorBroadcaster) Offer(pos model.Position) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	if elapsed := now.Sub(c.last); elapsed >= c.interval {
		c.last = now
		c.pending = nil
		c.mu.Unlock()
		c.sink(pos)
		return
	}

	p := pos
	c.pending = &p
	if c.timer == nil {
		delay := c.interval - now.Sub(c.last)
		c.timer = time.AfterFunc(delay, c.flush)
	}
	c.mu.Unlock()
}

func (c *CursorBroadcaster) flush() {
	c.mu.Lock()
	c.timer = nil
	if c.stopped || c.pending == nil {
		c.mu.Unlock()
		return
	}
	pos := *c.pending
	c.pending = nil
	c.last = time.Now()
	c.mu.Unlock()
	c.sink(pos)
}

// Stop cancels any held position. Further Offer calls are ignored.
func (c *CursorBroadcaster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
