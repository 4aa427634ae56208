// Package auth holds the bearer token used for calls to the remote API and
// guards local routes that need one.
package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore is the process-wide holder of the current bearer token.
type TokenStore struct {
	mu        sync.RWMutex
	token     string
	tokenType string
	username  string
	expiresAt time.Time
	now       func() time.Time
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{now: time.Now}
}

// Set installs token. When the token is a JWT carrying an exp claim, the
// expiry is remembered so Token stops returning it once it lapses. The
// signature is not checked here; the remote API does that.
func (s *TokenStore) Set(token, tokenType, username string) {
	expiresAt, subject := inspect(token)
	if username == "" {
		username = subject
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.tokenType = tokenType
	s.username = username
	s.expiresAt = expiresAt
}

// Token returns the current token, or "" when none is set or it expired.
func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.expiredLocked() {
		return ""
	}
	return s.token
}

// Username returns the account name recorded with the token.
func (s *TokenStore) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// ExpiresAt returns the token expiry, zero when unknown.
func (s *TokenStore) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Authenticated reports whether a usable token is held.
func (s *TokenStore) Authenticated() bool {
	return s.Token() != ""
}

// Clear drops the token.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.tokenType = ""
	s.username = ""
	s.expiresAt = time.Time{}
}

func (s *TokenStore) expiredLocked() bool {
	return !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)
}

// inspect reads exp and sub from a JWT without verifying it. Opaque tokens
// yield zero values.
func inspect(token string) (time.Time, string) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, ""
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return expiresAt, claims.Subject
}
