// Package auth validates the bearer tokens presented on websocket and HTTP
// entry points.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
)

// Authenticator resolves a request to a user ID. With AllowAnonymous set,
// missing credentials resolve to an empty user instead of an error; a
// token that is present but bad is still rejected.
type Authenticator struct {
	secret         []byte
	allowAnonymous bool
}

func NewAuthenticator(secret string, allowAnonymous bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), allowAnonymous: allowAnonymous}
}

// TokenFromRequest extracts a bearer token from the Authorization header or,
// for websocket clients that cannot set headers, from the query string.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	q := r.URL.Query()
	for _, key := range []string{"access_token", "token", "auth_token"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// UserFromToken verifies an HS256 token and returns its subject.
func (a *Authenticator) UserFromToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if a.allowAnonymous {
			return "", nil
		}
		return "", ErrMissingToken
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// UserFromRequest resolves the request credentials to a user ID.
func (a *Authenticator) UserFromRequest(r *http.Request) (string, error) {
	return a.UserFromToken(TokenFromRequest(r))
}
