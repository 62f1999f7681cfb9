// Package auth implements core.TokenVerifier (C1). The session layer
// treats token issuance as external; this package is the one bundled
// implementation that makes the service runnable end to end.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lattice-video/signaling/internal/domain"
)

// Claims extends jwt.RegisteredClaims with the identity fields the
// session layer needs on every socket (spec.md §3's User snapshot).
type Claims struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 bearer tokens issued by the (external)
// auth service, grounded on qrave1-RoomSpeak's
// jwt.ParseWithClaims(cookie/header, &jwt.RegisteredClaims{}, ...)
// pattern, extended with the custom Claims above.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (domain.User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithLeeway(2*time.Second))
	if err != nil || !parsed.Valid {
		return domain.User{}, domain.ErrAuthenticationFailed
	}
	if claims.Subject == "" {
		return domain.User{}, domain.ErrAuthenticationFailed
	}
	return domain.User{
		ID:          domain.UserID(claims.Subject),
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		AvatarURL:   claims.AvatarURL,
	}, nil
}
