package oidcstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind names one of the tokens carried by a User.
type TokenKind string

const (
	AccessTokenKind  TokenKind = "access_token"
	IDTokenKind      TokenKind = "id_token"
	RefreshTokenKind TokenKind = "refresh_token"
)

// TokenExp decodes the exp claim of a JWT without verifying its signature.
// ok is false when the token is empty, opaque or carries no exp.
func TokenExp(token string) (exp int64, ok bool) {
	if token == "" {
		return 0, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	at, err := claims.GetExpirationTime()
	if err != nil || at == nil {
		return 0, false
	}
	return at.Unix(), true
}

// TokenIsExpired reports whether the token's exp claim is in the past.
// Tokens without a decodable exp are never considered expired.
func TokenIsExpired(token string, now time.Time) bool {
	exp, ok := TokenExp(token)
	if !ok {
		return false
	}
	return now.Unix() >= exp
}

func (k TokenKind) from(u *User) string {
	if u == nil {
		return ""
	}
	switch k {
	case AccessTokenKind:
		return u.AccessToken
	case IDTokenKind:
		return u.IDToken
	case RefreshTokenKind:
		return u.RefreshToken
	}
	return ""
}
