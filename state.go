package oidcstore

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// AuthState is a point in time copy of the store state.
type AuthState struct {
	User        *User         `json:"user"`
	IsChecked   bool          `json:"is_checked"`
	EventsBound bool          `json:"events_are_bound"`
	Error       *ErrorPayload `json:"error,omitempty"`
}

// SetAuthenticated caches user and clears the last error. A nil user
// clears the cache.
func (s *Store) SetAuthenticated(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = user
	s.state.Error = nil
}

// SetUser replaces the cached user without touching the last error.
func (s *Store) SetUser(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = user
}

// ClearAuthenticated drops the cached user.
func (s *Store) ClearAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = nil
}

// MarkChecked records that an authentication outcome was reached. The flag
// is never reset.
func (s *Store) MarkChecked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsChecked = true
}

// MarkEventsBound records that token lifecycle listeners are registered.
func (s *Store) MarkEventsBound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.EventsBound = true
}

// claimEventBinding flips EventsBound and reports whether the caller won
// the right to register the lifecycle listeners.
func (s *Store) claimEventBinding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.EventsBound {
		return false
	}
	s.state.EventsBound = true
	return true
}

// SetError records payload as the last error and raises oidcError. A nil
// payload is ignored.
func (s *Store) SetError(ctx context.Context, payload *ErrorPayload) {
	if payload == nil {
		return
	}

	s.mu.Lock()
	s.state.Error = payload
	s.mu.Unlock()

	s.metrics.Error(payload.Source)
	var rich *goerrors.Error
	if errors.As(payload.Err, &rich) {
		s.logger.Error("oidc error",
			"source", payload.Source,
			"error", rich.Message,
			"category", rich.Category,
			"details", print.MaybePrettyJSON(rich.Metadata),
		)
	} else {
		s.logger.Error("oidc error", "source", payload.Source, "error", payload.Message)
	}
	s.dispatchError(ctx, EventOidcError, payload)
}

// User returns the cached user.
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.User
}

// IsAuthenticated reports whether the token selected by
// StoreSettings.IsAuthenticatedBy is present on the cached user.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.User == nil {
		return false
	}
	if s.settings.IsAuthenticatedBy == AuthenticatedByAccessToken {
		return s.state.User.AccessToken != ""
	}
	return s.state.User.IDToken != ""
}

func (s *Store) token(kind TokenKind) string {
	s.mu.RLock()
	tok := kind.from(s.state.User)
	s.mu.RUnlock()

	if tok == "" || TokenIsExpired(tok, s.now()) {
		return ""
	}
	return tok
}

// AccessToken returns the cached access token, or "" when it is missing or
// its exp claim has passed.
func (s *Store) AccessToken() string {
	return s.token(AccessTokenKind)
}

// IDToken returns the cached ID token unless expired.
func (s *Store) IDToken() string {
	return s.token(IDTokenKind)
}

// RefreshToken returns the cached refresh token unless expired.
func (s *Store) RefreshToken() string {
	return s.token(RefreshTokenKind)
}

// TokenExpiry decodes the exp claim of the given token.
func (s *Store) TokenExpiry(kind TokenKind) (int64, bool) {
	s.mu.RLock()
	tok := kind.from(s.state.User)
	s.mu.RUnlock()
	return TokenExp(tok)
}

func (s *Store) AccessTokenExp() (int64, bool) {
	return s.TokenExpiry(AccessTokenKind)
}

func (s *Store) IDTokenExp() (int64, bool) {
	return s.TokenExpiry(IDTokenKind)
}

func (s *Store) RefreshTokenExp() (int64, bool) {
	return s.TokenExpiry(RefreshTokenKind)
}

// Scopes returns the granted scopes of the cached user.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.User.Scopes()
}

// AuthenticationIsChecked reports whether any authentication outcome was
// reached since the store was created.
func (s *Store) AuthenticationIsChecked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsChecked
}

// EventsBound reports whether token lifecycle listeners are registered.
func (s *Store) EventsBound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.EventsBound
}

// Error returns the message of the last recorded error, or "".
func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Error == nil {
		return ""
	}
	return s.state.Error.Message
}

// LastError returns the last recorded error payload.
func (s *Store) LastError() *ErrorPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Error
}

// IsRoutePublic classifies route with the configured public rules.
func (s *Store) IsRoutePublic(route Route) bool {
	return s.routes.IsPublic(route)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	out.User = s.state.User.Clone()
	if s.state.Error != nil {
		errCopy := *s.state.Error
		out.Error = &errCopy
	}
	return out
}
