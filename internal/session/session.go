// Package session is the boundary to the authentication collaborator. The
// engine never stores or refreshes credentials; it asks the provider for a
// current token whenever a transport needs one.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies a current, revalidated bearer token. Implementations
// belong to the auth collaborator; StaticToken exists for tests and dev runs.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no session token configured")
	}
	return string(s), nil
}

type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// ParseIdentity extracts the viewer id and expiry from a bearer token without
// verifying the signature. Verification is the server's job; the client only
// needs to know who it is acting as.
func ParseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, errors.New("token has no subject")
	}
	id := Identity{UserID: sub}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}
