package oidcstore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-router"
)

// AccessChecker is what the navigation guard needs from a store.
type AccessChecker interface {
	CheckAccess(ctx context.Context, route Route) bool
}

// NavigationGuard continues a navigation by calling next. When access is
// not granted next is never called and the navigation is left pending.
type NavigationGuard func(ctx context.Context, to, from Route, next func())

// NewNavigationGuard returns a guard backed by checker.
func NewNavigationGuard(checker AccessChecker) NavigationGuard {
	return func(ctx context.Context, to, _ Route, next func()) {
		if checker.CheckAccess(ctx, to) {
			next()
		}
	}
}

// StoreResolver returns the store for the session behind an HTTP request.
type StoreResolver func(ctx router.Context) (*Store, error)

// UserLocalsKey is where Middleware places the cached user for handlers.
const UserLocalsKey = "oidc_user"

// GuardConfig configures the HTTP guard middleware and handlers.
type GuardConfig struct {
	Resolve StoreResolver
	// RouteMeta returns the metadata of the matched route, if any.
	RouteMeta func(ctx router.Context) []RouteMeta
	// DeniedHandler answers denied requests that did not start a redirect.
	DeniedHandler func(ctx router.Context) error
	ErrorHandler  func(ctx router.Context, err error) error
	LocalsKey     string
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.RouteMeta == nil {
		c.RouteMeta = func(router.Context) []RouteMeta { return nil }
	}
	if c.DeniedHandler == nil {
		c.DeniedHandler = func(ctx router.Context) error {
			return ctx.Status(http.StatusUnauthorized).SendString("unauthorized")
		}
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return ctx.Status(http.StatusInternalServerError).SendString(err.Error())
		}
	}
	if c.LocalsKey == "" {
		c.LocalsKey = UserLocalsKey
	}
	return c
}

func (c GuardConfig) resolve(ctx router.Context) (*Store, error) {
	if c.Resolve == nil {
		return nil, fmt.Errorf("oidc guard: missing store resolver")
	}
	store, err := c.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("oidc guard: resolver returned no store")
	}
	return store, nil
}

// Middleware runs the navigation guard for every request. Granted requests
// continue with the cached user in locals. Denied requests are redirected
// when the access check started an interactive sign in.
func Middleware(cfg GuardConfig) router.MiddlewareFunc {
	cfg = cfg.withDefaults()

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			store, err := cfg.resolve(ctx)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			nav := &RedirectRecorder{}
			stdCtx := WithNavigator(ctx.Context(), nav)

			to := Route{
				Path:     ctx.Path(),
				FullPath: ctx.OriginalURL(),
				Meta:     cfg.RouteMeta(ctx),
			}

			granted := false
			NewNavigationGuard(store)(stdCtx, to, Route{}, func() { granted = true })

			if granted {
				if user := store.User(); user != nil {
					ctx.Locals(cfg.LocalsKey, user)
				}
				return next(ctx)
			}

			if url := nav.URL(); url != "" {
				return ctx.Redirect(url, http.StatusFound)
			}
			return cfg.DeniedHandler(ctx)
		}
	}
}

// CallbackHandler completes the redirect sign in and sends the user back
// to the path they asked for.
func CallbackHandler(cfg GuardConfig) router.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(ctx router.Context) error {
		store, err := cfg.resolve(ctx)
		if err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		path, err := store.SignInCallback(ctx.Context(), ctx.OriginalURL())
		if err != nil {
			return cfg.ErrorHandler(ctx, err)
		}
		return ctx.Redirect(path, http.StatusFound)
	}
}

// SignOutHandler starts a redirect sign out.
func SignOutHandler(cfg GuardConfig) router.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(ctx router.Context) error {
		store, err := cfg.resolve(ctx)
		if err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		nav := &RedirectRecorder{}
		stdCtx := WithNavigator(ctx.Context(), nav)

		if err := store.SignOut(stdCtx, SignoutOptions{}); err != nil {
			return cfg.ErrorHandler(ctx, err)
		}

		url := nav.URL()
		if url == "" {
			url = "/"
		}
		return ctx.Redirect(url, http.StatusFound)
	}
}
