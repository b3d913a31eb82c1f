// Package auth defines the credential verifier consumed by the gateway
// handshake. Token issuance lives outside this system; the gateway only
// verifies what it is handed.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidCredential is returned for any credential that fails
// verification: absent, malformed, expired, or bad signature. The
// gateway treats it as fatal to the connection.
var ErrInvalidCredential = errors.New("auth: invalid credential")

// Identity is the resolved principal behind a verified credential.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Verifier validates a bearer credential and resolves its identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// StaticVerifier maps fixed tokens to identities. Useful for tests and
// local development.
type StaticVerifier map[string]Identity

// Verify implements Verifier.
func (v StaticVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	id, ok := v[credential]
	if !ok {
		return nil, ErrInvalidCredential
	}
	out := id
	return &out, nil
}
