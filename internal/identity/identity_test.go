package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loqui/messenger/internal/errs"
)

const (
	testSecret = "test-secret"
	testIssuer = "loqui-identity"
)

func signToken(t *testing.T, c claims, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func validClaims() claims {
	return claims{
		DisplayName: "Ada",
		AvatarURL:   "https://cdn.example.com/ada.png",
		Active:      true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewTokenVerifier(testSecret, testIssuer)

	p, err := v.Verify(context.Background(), signToken(t, validClaims(), testSecret))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if p.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", p.UserID, "user-1")
	}
	if p.DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want %q", p.DisplayName, "Ada")
	}
	if !p.IsActive {
		t.Error("IsActive = false, want true")
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := NewTokenVerifier(testSecret, testIssuer)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	inactive := validClaims()
	inactive.Active = false

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
		{"wrong secret", signToken(t, validClaims(), "other-secret")},
		{"expired", signToken(t, expired, testSecret)},
		{"wrong issuer", signToken(t, wrongIssuer, testSecret)},
		{"inactive account", signToken(t, inactive, testSecret)},
		{"no subject", signToken(t, noSubject, testSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if !errors.Is(err, errs.ErrUnauthenticated) {
				t.Errorf("Verify() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestStaticVerifier(t *testing.T) {
	v := &StaticVerifier{Profiles: map[string]Profile{
		"tok-a": {UserID: "a", DisplayName: "A", IsActive: true},
		"tok-b": {UserID: "b", DisplayName: "B", IsActive: false},
	}}

	p, err := v.Verify(context.Background(), "tok-a")
	if err != nil || p.UserID != "a" {
		t.Fatalf("Verify(tok-a) = (%+v, %v), want user a", p, err)
	}

	if _, err := v.Verify(context.Background(), "tok-b"); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Errorf("inactive account: error = %v, want ErrUnauthenticated", err)
	}
	if _, err := v.Verify(context.Background(), "nope"); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Errorf("unknown token: error = %v, want ErrUnauthenticated", err)
	}
}
