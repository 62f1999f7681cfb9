package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/lattice-video/signaling/internal/domain"
)

const guestTokenPrefix = "guest:"

// guestClaim is the payload embedded in a guest token: an
// unsigned, base64url-encoded JSON blob. Guests carry no privileges
// beyond the room they were handed a link to, so a forged displayName
// only misleads other participants in that room, never CallStore
// (invariant P3: guest transitions never call C2).
type guestClaim struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// GuestVerifier implements spec.md §9's chosen interpretation of the
// two divergent RoomService variants: sockets are always
// handshake-authenticated, and a guest identity is just a token whose
// claim is supplied rather than signed by the auth service.
type GuestVerifier struct{}

func NewGuestVerifier() *GuestVerifier { return &GuestVerifier{} }

func (v *GuestVerifier) Accepts(token string) bool {
	return strings.HasPrefix(token, guestTokenPrefix)
}

func (v *GuestVerifier) Verify(ctx context.Context, token string) (domain.User, error) {
	encoded := strings.TrimPrefix(token, guestTokenPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.User{}, domain.ErrAuthenticationFailed
	}
	var claim guestClaim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return domain.User{}, domain.ErrAuthenticationFailed
	}
	if claim.ID == "" {
		return domain.User{}, domain.ErrAuthenticationFailed
	}
	return domain.User{
		ID:          domain.UserID(domain.GuestUserIDPrefix + claim.ID),
		DisplayName: claim.DisplayName,
	}, nil
}
