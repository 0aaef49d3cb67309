package oidcstore

import (
	"strings"
	"time"
)

// User is the authenticated user record produced by the session manager.
type User struct {
	AccessToken  string         `json:"access_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	SessionState string         `json:"session_state,omitempty"`
	ExpiresAt    int64          `json:"expires_at,omitempty"`
	Profile      map[string]any `json:"profile,omitempty"`
}

// ExpiresIn returns the time left before the access token expires. ok is
// false when the user carries no expiry.
func (u *User) ExpiresIn(now time.Time) (d time.Duration, ok bool) {
	if u == nil || u.ExpiresAt == 0 {
		return 0, false
	}
	return time.Unix(u.ExpiresAt, 0).Sub(now), true
}

// Expired reports whether the access token lifetime has run out. A user
// without an expiry never expires.
func (u *User) Expired(now time.Time) bool {
	d, ok := u.ExpiresIn(now)
	if !ok {
		return false
	}
	return d <= 0
}

// Subject returns the sub claim from the profile, if any.
func (u *User) Subject() string {
	if u == nil || u.Profile == nil {
		return ""
	}
	sub, _ := u.Profile["sub"].(string)
	return sub
}

// Scopes splits the cached scope string on commas.
func (u *User) Scopes() []string {
	if u == nil || u.Scope == "" {
		return []string{}
	}
	return strings.Split(u.Scope, ",")
}

// Clone returns a shallow copy with its own profile map.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.Profile != nil {
		out.Profile = make(map[string]any, len(u.Profile))
		for k, v := range u.Profile {
			out.Profile[k] = v
		}
	}
	return &out
}
