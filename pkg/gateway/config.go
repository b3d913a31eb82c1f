package gateway

import (
	"net/http"
	"time"
)

// Config controls gateway timeouts, buffer sizes, and origin policy.
type Config struct {
	// HandshakeTimeout bounds the wait for the hello frame after the
	// WebSocket upgrade.
	HandshakeTimeout time.Duration

	// ReadTimeout is the per-read deadline on established connections.
	// Heartbeat pongs extend it.
	ReadTimeout time.Duration

	// WriteTimeout is the per-write deadline.
	WriteTimeout time.Duration

	// HeartbeatInterval is how often the server pings idle connections.
	HeartbeatInterval time.Duration

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64

	// OutboxSize is the per-session outbound buffer. A session whose
	// outbox is full has relay deliveries dropped rather than blocking
	// the publisher.
	OutboxSize int

	// InboxSize is the per-session inbound dispatch buffer.
	InboxSize int

	// ReadBufferSize and WriteBufferSize size the upgrader's buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the Origin header on upgrade. Nil allows
	// same-origin only (the gorilla default).
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    256 * 1024,
		OutboxSize:        64,
		InboxSize:         64,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	d := DefaultConfig()
	out := *c
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = d.HandshakeTimeout
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.OutboxSize == 0 {
		out.OutboxSize = d.OutboxSize
	}
	if out.InboxSize == 0 {
		out.InboxSize = d.InboxSize
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	return &out
}
