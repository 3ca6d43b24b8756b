package realtime

import (
	"context"
	"errors"

	"github.com/auditdesk/portal/pkg/jwt"
)

// Authenticator resolves a handshake token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// JWTAuthenticator verifies portal access tokens.
type JWTAuthenticator struct {
	tokens *jwt.Service
}

func NewJWTAuthenticator(tokens *jwt.Service) *JWTAuthenticator {
	return &JWTAuthenticator{tokens: tokens}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return "", errors.Join(ErrUnauthorized, err)
	}
	return claims.UserID(), nil
}
