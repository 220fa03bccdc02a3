// Package auth exposes whether the user is signed in. The sync layer only
// needs a presence signal; it never validates signatures.
package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the bearer token used for authenticated endpoints.
type Session struct {
	mu    sync.RWMutex
	token string
	exp   time.Time
	now   func() time.Time
}

// NewSession returns a session seeded with token (may be empty).
func NewSession(token string) *Session {
	s := &Session{now: time.Now}
	s.SetToken(token)
	return s
}

// SetToken replaces the token. Expiry is read from the JWT "exp" claim when
// the token is a JWT; opaque tokens never expire client-side.
func (s *Session) SetToken(token string) {
	token = strings.TrimSpace(token)
	exp := expiry(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.exp = exp
}

// Clear drops the token (logout).
func (s *Session) Clear() { s.SetToken("") }

// Token returns the current token if it is present and unexpired.
func (s *Session) Token() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	if !s.exp.IsZero() && !s.now().Before(s.exp) {
		return "", false
	}
	return s.token, true
}

// Present reports whether authenticated calls can be made.
func (s *Session) Present() bool {
	_, ok := s.Token()
	return ok
}

func expiry(token string) time.Time {
	if strings.Count(token, ".") != 2 {
		return time.Time{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
