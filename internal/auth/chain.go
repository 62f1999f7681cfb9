package auth

import (
	"context"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// Chain hands tokens carrying the guest prefix to the guest verifier
// and every other token to the JWT verifier; a token rejected by the
// verifier it was routed to is not retried on the other one.
// It is what cmd/server wires as the relay's core.TokenVerifier.
type Chain struct {
	jwt   *JWTVerifier
	guest *GuestVerifier
}

func NewChain(jwt *JWTVerifier, guest *GuestVerifier) *Chain {
	return &Chain{jwt: jwt, guest: guest}
}

var _ core.TokenVerifier = (*Chain)(nil)

func (c *Chain) Verify(ctx context.Context, token string) (domain.User, error) {
	if c.guest.Accepts(token) {
		return c.guest.Verify(ctx, token)
	}
	return c.jwt.Verify(ctx, token)
}
