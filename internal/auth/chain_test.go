package auth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-video/signaling/internal/domain"
)

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := &Claims{
		DisplayName: "Ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestChainVerifiesJWT(t *testing.T) {
	c := NewChain(NewJWTVerifier("secret"), NewGuestVerifier())
	tok := signedToken(t, "secret", "user-1")

	u, err := c.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if u.ID != "user-1" || u.DisplayName != "Ada" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestChainRejectsBadSignature(t *testing.T) {
	c := NewChain(NewJWTVerifier("secret"), NewGuestVerifier())
	tok := signedToken(t, "wrong-secret", "user-1")

	if _, err := c.Verify(context.Background(), tok); err != domain.ErrAuthenticationFailed {
		t.Fatalf("want ErrAuthenticationFailed, got %v", err)
	}
}

func TestChainVerifiesGuestToken(t *testing.T) {
	c := NewChain(NewJWTVerifier("secret"), NewGuestVerifier())
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"abc123","displayName":"Alice"}`))

	u, err := c.Verify(context.Background(), "guest:"+payload)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !u.ID.IsGuest() {
		t.Fatalf("expected guest id, got %q", u.ID)
	}
	if u.DisplayName != "Alice" {
		t.Fatalf("unexpected display name: %q", u.DisplayName)
	}
}
