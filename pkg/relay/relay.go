package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

// Subscriber receives messages fanned out by the Relay. Enqueue must
// not block: implementations buffer internally and return an error
// when the buffer is full or the subscriber is closed.
type Subscriber interface {
	Enqueue(msg *model.ServerMessage) error
}

// Metrics receives delivery counters from the Relay. Implementations
// must be safe for concurrent use.
type Metrics interface {
	RelayDelivered()
	RelayDropped()
}

type nopMetrics struct{}

func (nopMetrics) RelayDelivered() {}
func (nopMetrics) RelayDropped()   {}

// Relay fans messages out to room members. It is constructed once per
// process and handed to the gateway; there is no ambient global relay
// state.
type Relay struct {
	registry *Registry

	mu   sync.RWMutex
	subs map[string]Subscriber

	metrics Metrics
	logger  *slog.Logger

	// now stamps broadcast timestamps; replaceable in tests.
	now func() time.Time
}

// New creates a Relay over the given registry.
func New(registry *Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry: registry,
		subs:     make(map[string]Subscriber),
		metrics:  nopMetrics{},
		logger:   logger.With("component", "relay"),
		now:      time.Now,
	}
}

// SetMetrics installs a delivery counter sink. Must be called before
// the relay starts publishing.
func (r *Relay) SetMetrics(m Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// Subscribe registers the subscriber for sessionID. A second subscribe
// for the same session replaces the previous subscriber.
func (r *Relay) Subscribe(sessionID string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sessionID] = sub
}

// Unsubscribe removes the subscriber for sessionID.
func (r *Relay) Unsubscribe(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sessionID)
}

// Publish delivers msg to every session currently in roomID except
// originSessionID. If msg carries a MutationEvent, the broadcast
// timestamp is stamped here, overwriting whatever the producer set:
// the relay is the only authority for broadcast times. Per-subscriber
// failures are counted and logged; they never propagate to the
// publisher or to other members.
func (r *Relay) Publish(roomID string, msg *model.ServerMessage, originSessionID string) {
	if msg.Event != nil {
		msg.Event.Timestamp = r.now()
	}

	members := r.registry.MembersOf(roomID)
	if len(members) == 0 {
		return
	}

	r.mu.RLock()
	targets := make([]Subscriber, 0, len(members))
	for _, id := range members {
		if id == originSessionID {
			continue
		}
		if sub, ok := r.subs[id]; ok {
			targets = append(targets, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Enqueue(msg); err != nil {
			r.metrics.RelayDropped()
			r.logger.Warn("delivery dropped",
				"room_id", roomID,
				"type", msg.Type,
				"error", err)
			continue
		}
		r.metrics.RelayDelivered()
	}
}
