package oidcstore

import (
	"context"
	"sync"
)

// Navigator moves the user agent to url. The session manager uses the
// navigator found on the context to start redirect flows.
type Navigator interface {
	Navigate(ctx context.Context, url string, replace bool) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string, replace bool) error

func (f NavigatorFunc) Navigate(ctx context.Context, url string, replace bool) error {
	return f(ctx, url, replace)
}

// Opener opens url in a secondary window for popup flows.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

type navigatorKey struct{}
type openerKey struct{}

// WithNavigator returns a copy of ctx carrying nav.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

// NavigatorFromContext returns the navigator set with WithNavigator.
func NavigatorFromContext(ctx context.Context) (Navigator, bool) {
	nav, ok := ctx.Value(navigatorKey{}).(Navigator)
	return nav, ok && nav != nil
}

// WithOpener returns a copy of ctx carrying opener.
func WithOpener(ctx context.Context, opener Opener) context.Context {
	return context.WithValue(ctx, openerKey{}, opener)
}

// OpenerFromContext returns the opener set with WithOpener.
func OpenerFromContext(ctx context.Context) (Opener, bool) {
	opener, ok := ctx.Value(openerKey{}).(Opener)
	return opener, ok && opener != nil
}

// RedirectRecorder is a Navigator that keeps the last requested URL so an
// HTTP handler can answer with a redirect.
type RedirectRecorder struct {
	mu      sync.Mutex
	url     string
	replace bool
}

var _ Navigator = &RedirectRecorder{}

func (r *RedirectRecorder) Navigate(_ context.Context, url string, replace bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.url = url
	r.replace = replace
	return nil
}

// URL returns the recorded location, or "" when nothing navigated.
func (r *RedirectRecorder) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Replace reports whether the last navigation asked to replace history.
func (r *RedirectRecorder) Replace() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replace
}
