package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier verifies HMAC-signed bearer tokens. Claims:
//
//	sub    user id (required)
//	name   display name
//	avatar avatar reference
//
// Expiry and not-before are enforced by the JWT library when present.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
}

// NewJWTVerifier creates a verifier for tokens signed with key.
// If issuer is non-empty, the iss claim must match.
func NewJWTVerifier(key []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{signingKey: key, issuer: issuer}
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidCredential)
	}

	if v.issuer != "" {
		iss, _ := claims["iss"].(string)
		if iss != v.issuer {
			return nil, fmt.Errorf("%w: issuer %q", ErrInvalidCredential, iss)
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}

	id := &Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	if id.DisplayName == "" {
		id.DisplayName = sub
	}
	if avatar, ok := claims["avatar"].(string); ok {
		id.AvatarRef = avatar
	}
	return id, nil
}
