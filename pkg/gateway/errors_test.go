package gateway

import (
	"errors"
	"testing"
)

func TestSessionErrorUnwrap(t *testing.T) {
	err := &SessionError{SessionID: "s1", Op: "enqueue", Err: ErrOutboxFull}

	if !errors.Is(err, ErrOutboxFull) {
		t.Error("SessionError should unwrap to ErrOutboxFull")
	}

	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatal("errors.As should match *SessionError")
	}
	if se.SessionID != "s1" || se.Op != "enqueue" {
		t.Errorf("SessionError fields = %+v", se)
	}
}

func TestSessionErrorMessage(t *testing.T) {
	err := &SessionError{SessionID: "s1", Op: "write", Err: errors.New("broken pipe")}
	want := "gateway: session s1: write: broken pipe"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	var nilConfig *Config
	c := nilConfig.withDefaults()
	if c.OutboxSize != 64 || c.HeartbeatInterval == 0 {
		t.Errorf("nil config defaults = %+v", c)
	}

	partial := &Config{OutboxSize: 8}
	c = partial.withDefaults()
	if c.OutboxSize != 8 {
		t.Errorf("OutboxSize = %d, want the configured 8", c.OutboxSize)
	}
	if c.ReadTimeout == 0 || c.MaxMessageSize == 0 {
		t.Errorf("unset fields not defaulted: %+v", c)
	}

	// withDefaults must not mutate the input.
	if partial.ReadTimeout != 0 {
		t.Error("withDefaults mutated its receiver")
	}
}
