package oidcstore

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeSilentAuth       = "OIDC_SILENT_AUTH_FAILED"
	TextCodeInteractiveAuth  = "OIDC_INTERACTIVE_AUTH_FAILED"
	TextCodePopupAuth        = "OIDC_POPUP_AUTH_FAILED"
	TextCodeSignOut          = "OIDC_SIGN_OUT_FAILED"
	TextCodeCallback         = "OIDC_CALLBACK_FAILED"
	TextCodeStoreUser        = "OIDC_STORE_USER_FAILED"
	TextCodeNoSignoutFactory = "OIDC_NO_SIGNOUT_FACTORY"
	TextCodeInvalidConfig    = "OIDC_INVALID_CONFIG"
)

// Source tags identify the store operation that produced an error.
const (
	SourceAuthenticateSilent  = "authenticate_silent"
	SourceAuthenticate        = "authenticate"
	SourceAuthenticatePopup   = "authenticate_popup"
	SourceSignInCallback      = "sign_in_callback"
	SourceSignInPopupCallback = "sign_in_popup_callback"
	SourceStoreUser           = "store_user"
	SourceSignOut             = "sign_out"
	SourceSignOutCallback     = "sign_out_callback"
	SourceSignOutPopup        = "sign_out_popup"
	SourceSignOutPopupCB      = "sign_out_popup_callback"
	SourceSignOutSilent       = "sign_out_silent"
	SourceRemoveUser          = "remove_user"
)

// ErrSilentAuth is returned when a non interactive renewal fails.
var ErrSilentAuth = goerrors.New("silent authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeSilentAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrInteractiveAuth is returned when an interactive redirect cannot start.
var ErrInteractiveAuth = goerrors.New("interactive authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeInteractiveAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrPopupAuth is returned when a popup sign in fails.
var ErrPopupAuth = goerrors.New("popup authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodePopupAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrSignOut is returned when any sign out variant fails.
var ErrSignOut = goerrors.New("sign out failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeSignOut).
	WithCode(goerrors.CodeBadRequest)

// ErrCallback is returned when a sign in or sign out callback is rejected.
var ErrCallback = goerrors.New("authentication callback failed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeCallback).
	WithCode(goerrors.CodeBadRequest)

// ErrStoreUser is returned when a user cannot be persisted in the manager.
var ErrStoreUser = goerrors.New("unable to store user", goerrors.CategoryInternal).
	WithTextCode(TextCodeStoreUser).
	WithCode(goerrors.CodeInternal)

// ErrNoSignoutFactory is returned by SignOutSilent without a request factory.
var ErrNoSignoutFactory = goerrors.New("silent sign out requires a signout request factory", goerrors.CategoryInternal).
	WithTextCode(TextCodeNoSignoutFactory).
	WithCode(goerrors.CodeInternal)

// ErrorPayload is what the store records as its last error and what
// oidcError and automaticSilentRenewError observers receive.
type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// NewErrorPayload tags err with the operation that produced it.
func NewErrorPayload(source string, err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	return &ErrorPayload{
		Source:  source,
		Message: err.Error(),
		Err:     err,
	}
}

// wrapAuthError clones base, attaches err as its source and records which
// operation failed.
func wrapAuthError(base *goerrors.Error, source string, err error) error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.TextCode == base.TextCode {
		return err
	}

	clone := base.Clone()
	clone.Source = err
	clone.WithMetadata(map[string]any{
		"source": source,
		"error":  err.Error(),
	})
	return clone
}

// HasTextCode reports whether err carries a go-errors text code.
func HasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	for err != nil {
		if errors.As(err, &rich) {
			if rich.TextCode == code {
				return true
			}
			err = rich.Source
			continue
		}
		return false
	}
	return false
}

// IsErrorKind reports whether err was produced from the given sentinel.
func IsErrorKind(err error, kind *goerrors.Error) bool {
	if kind == nil {
		return false
	}
	return HasTextCode(err, kind.TextCode)
}

// ErrorSource returns the operation tag attached by the store, if any.
func ErrorSource(err error) string {
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.Metadata == nil {
		return ""
	}
	src, _ := rich.Metadata["source"].(string)
	return src
}
