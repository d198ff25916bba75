// Package identity is the narrow interface to the external identity service.
// The engine never stores credentials or user records; it only verifies a
// bearer token and receives the profile fields embedded in it.
package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loqui/messenger/internal/errs"
)

// Profile is the verified identity attached to a connection or request.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsActive    bool   `json:"is_active"`
}

// Verifier validates a bearer credential and returns the profile it proves.
// Implementations must fail with errs.ErrUnauthenticated for any credential
// that cannot be positively verified.
type Verifier interface {
	Verify(ctx context.Context, token string) (Profile, error)
}

// Directory resolves user IDs against the identity service's user base.
// The engine uses it to reject conversation participants that do not exist.
// Deployments that trust upstream-validated IDs may run without one.
type Directory interface {
	// ResolveAll returns errs.ErrValidation if any of the IDs does not
	// resolve to a real, active user.
	ResolveAll(ctx context.Context, userIDs []string) error
}

// claims is the token payload issued by the identity service.
type claims struct {
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	Active      bool   `json:"active"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies HMAC-signed tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a TokenVerifier for the given shared secret and
// expected issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the token. It checks the signature, expiry,
// and issuer, and rejects deactivated accounts.
func (v *TokenVerifier) Verify(_ context.Context, token string) (Profile, error) {
	if token == "" {
		return Profile{}, errs.Unauthenticatedf("missing token")
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Profile{}, errs.Unauthenticatedf("invalid token")
	}

	if c.Subject == "" {
		return Profile{}, errs.Unauthenticatedf("token has no subject")
	}
	if !c.Active {
		return Profile{}, errs.Unauthenticatedf("account is deactivated")
	}

	return Profile{
		UserID:      c.Subject,
		DisplayName: c.DisplayName,
		AvatarURL:   c.AvatarURL,
		IsActive:    c.Active,
	}, nil
}

// StaticVerifier resolves tokens from a fixed map. It exists for tests and
// local development without a running identity service.
type StaticVerifier struct {
	Profiles map[string]Profile // token -> profile
}

// Verify looks the token up in the static map.
func (v *StaticVerifier) Verify(_ context.Context, token string) (Profile, error) {
	p, ok := v.Profiles[token]
	if !ok {
		return Profile{}, errs.Unauthenticatedf("unknown token")
	}
	if !p.IsActive {
		return Profile{}, errs.Unauthenticatedf("account is deactivated")
	}
	return p, nil
}
