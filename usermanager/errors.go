package usermanager

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidState    = "OIDC_INVALID_STATE"
	TextCodeStateExpired    = "OIDC_STATE_EXPIRED"
	TextCodeProviderError   = "OIDC_PROVIDER_ERROR"
	TextCodeTokenExchange   = "OIDC_TOKEN_EXCHANGE_FAILED"
	TextCodeLoginRequired   = "OIDC_LOGIN_REQUIRED"
	TextCodeIDTokenInvalid  = "OIDC_ID_TOKEN_INVALID"
	TextCodeNoNavigator     = "OIDC_NO_NAVIGATOR"
	TextCodeNoOpener        = "OIDC_NO_OPENER"
	TextCodePopupTimeout    = "OIDC_POPUP_TIMEOUT"
	TextCodeNoEndSession    = "OIDC_NO_END_SESSION_ENDPOINT"
	TextCodeDiscoveryFailed = "OIDC_DISCOVERY_FAILED"
	TextCodeNoWaiter        = "OIDC_NO_POPUP_WAITER"
)

// ErrInvalidState is returned when a callback carries a missing, tampered
// or already used state.
var ErrInvalidState = errors.New("invalid oidc state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when a callback arrives after the state TTL.
var ErrStateExpired = errors.New("oidc state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// ErrProviderResponse is returned when the identity provider answered a
// flow with an error parameter.
var ErrProviderResponse = errors.New("identity provider returned an error", errors.CategoryAuth).
	WithTextCode(TextCodeProviderError).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExchange is returned when the token endpoint rejects a request.
var ErrTokenExchange = errors.New("token exchange failed", errors.CategoryExternal).
	WithTextCode(TextCodeTokenExchange).
	WithCode(errors.CodeUnauthorized)

// ErrLoginRequired is returned by silent sign in when no refresh token is
// available.
var ErrLoginRequired = errors.New("login_required", errors.CategoryAuth).
	WithTextCode(TextCodeLoginRequired).
	WithCode(errors.CodeUnauthorized)

// ErrIDTokenInvalid is returned when ID token verification fails.
var ErrIDTokenInvalid = errors.New("invalid id token", errors.CategoryAuth).
	WithTextCode(TextCodeIDTokenInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrNoNavigator is returned by redirect flows without a navigator on ctx.
var ErrNoNavigator = errors.New("no navigator in context", errors.CategoryInternal).
	WithTextCode(TextCodeNoNavigator).
	WithCode(errors.CodeInternal)

// ErrNoOpener is returned by popup flows without an opener on ctx.
var ErrNoOpener = errors.New("no popup opener in context", errors.CategoryInternal).
	WithTextCode(TextCodeNoOpener).
	WithCode(errors.CodeInternal)

// ErrPopupTimeout is returned when the popup callback never arrives.
var ErrPopupTimeout = errors.New("popup flow timed out", errors.CategoryAuth).
	WithTextCode(TextCodePopupTimeout).
	WithCode(errors.CodeRequestTimeout)

// ErrNoEndSession is returned when the provider has no end session endpoint.
var ErrNoEndSession = errors.New("provider has no end_session_endpoint", errors.CategoryInternal).
	WithTextCode(TextCodeNoEndSession).
	WithCode(errors.CodeBadRequest)

// ErrDiscovery is returned when the provider metadata cannot be loaded.
var ErrDiscovery = errors.New("oidc discovery failed", errors.CategoryExternal).
	WithTextCode(TextCodeDiscoveryFailed).
	WithCode(errors.CodeInternal)

// ErrNoPopupWaiter is returned by popup callbacks nobody is waiting for.
var ErrNoPopupWaiter = errors.New("no popup flow waiting for this state", errors.CategoryNotFound).
	WithTextCode(TextCodeNoWaiter).
	WithCode(errors.CodeNotFound)

func wrap(base *errors.Error, err error, meta ...map[string]any) error {
	clone := base.Clone()
	clone.Source = err
	if err != nil {
		clone.WithMetadata(map[string]any{"error": err.Error()})
	}
	clone.WithMetadata(meta...)
	return clone
}
