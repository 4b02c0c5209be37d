// Package auth resolves bearer credentials to user ids. Identity itself lives elsewhere:
// either an upstream login service writes sessions to Redis, or a trusted gateway forwards
// the user id next to a shared service token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var ErrUnauthenticated = errors.New("auth: missing or invalid credential")

// Credentials are what a request presents.
type Credentials struct {
	Token  string
	UserID string // forwarded by the gateway, ignored in session mode
}

type Verifier interface {
	Verify(ctx context.Context, c Credentials) (userID string, err error)
}

// BearerToken extracts the token from an Authorization header value. A raw token is accepted too.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// SessionVerifier looks tokens up in Redis under prefix+token.
type SessionVerifier struct {
	rdb    redis.UniversalClient
	prefix string
}

const DefaultSessionPrefix = "auth:session:"

func NewSessionVerifier(rdb redis.UniversalClient) *SessionVerifier {
	return &SessionVerifier{rdb: rdb, prefix: DefaultSessionPrefix}
}

func (v *SessionVerifier) Verify(ctx context.Context, c Credentials) (string, error) {
	if c.Token == "" {
		return "", ErrUnauthenticated
	}
	userID, err := v.rdb.Get(ctx, v.prefix+c.Token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("session lookup: %w", err)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// GatewayVerifier trusts the forwarded user id when the shared service token matches.
type GatewayVerifier struct {
	token []byte
}

func NewGatewayVerifier(token string) *GatewayVerifier {
	return &GatewayVerifier{token: []byte(token)}
}

func (v *GatewayVerifier) Verify(_ context.Context, c Credentials) (string, error) {
	if len(v.token) == 0 || c.Token == "" {
		return "", ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(c.Token), v.token) != 1 {
		return "", ErrUnauthenticated
	}
	userID := strings.TrimSpace(c.UserID)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
