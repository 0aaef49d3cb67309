package oidcstore

import (
	"context"
	"fmt"
)

// Logger is the logging contract used across the package. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// UserManager is the session manager the store delegates protocol work to.
// Every call may block on network IO and must honor ctx.
type UserManager interface {
	// GetUser reads the locally cached user. It must not hit the network.
	GetUser(ctx context.Context) (*User, error)
	SigninSilent(ctx context.Context, opts SigninSilentOptions) (*User, error)
	// SigninRedirect hands the authorize URL to the navigator on ctx.
	SigninRedirect(ctx context.Context, opts SigninRedirectOptions) error
	SigninRedirectCallback(ctx context.Context, url string) (*User, error)
	SigninPopup(ctx context.Context, opts SigninPopupOptions) (*User, error)
	SigninPopupCallback(ctx context.Context, url string) error
	SignoutRedirect(ctx context.Context, opts SignoutOptions) error
	SignoutRedirectCallback(ctx context.Context, url string) error
	SignoutPopup(ctx context.Context, opts SignoutOptions) error
	SignoutPopupCallback(ctx context.Context, url string) error
	StoreUser(ctx context.Context, user *User) error
	RemoveUser(ctx context.Context) error
	ClearStaleState(ctx context.Context) error
	Events() UserManagerEvents
}

// UserManagerEvents is the event subscription surface of a UserManager.
type UserManagerEvents interface {
	AddAccessTokenExpiring(fn func()) Subscription
	AddAccessTokenExpired(fn func()) Subscription
	AddListener(name EventName, fn EventHandler) Subscription
	RemoveListener(sub Subscription)
}

// EventHandler receives the payload raised with an event, which may be nil.
type EventHandler func(payload any)

// Subscription identifies a registered listener so it can be removed later.
type Subscription struct {
	Event EventName
	ID    string
}

// SignoutRequestFactory is the lower level protocol client used for silent
// sign out.
type SignoutRequestFactory interface {
	CreateSignoutRequest(ctx context.Context, args SignoutRequestArgs) (*SignoutRequest, error)
}

// SignoutRequestArgs are the inputs of an end-session request.
type SignoutRequestArgs struct {
	IDTokenHint           string
	PostLogoutRedirectURI string
	State                 map[string]any
	ExtraQueryParams      map[string]string
}

// SignoutRequest is a prepared end-session request.
type SignoutRequest struct {
	URL   string
	State string
}

// FrameLoader loads a URL out of band and returns once it finished loading.
// It stands in for the hidden iframe used by silent sign out.
type FrameLoader interface {
	Load(ctx context.Context, url string) error
}

// RedirectStore persists the path a user asked for before an interactive
// redirect so the callback can restore it.
type RedirectStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Printf("[DBG] OIDC %s%s\n", msg, formatArgs(args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Printf("[INF] OIDC %s%s\n", msg, formatArgs(args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Printf("[WRN] OIDC %s%s\n", msg, formatArgs(args))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Printf("[ERR] OIDC %s%s\n", msg, formatArgs(args))
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	out := ""
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
		} else {
			out += fmt.Sprintf(" %v", args[i])
		}
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}
