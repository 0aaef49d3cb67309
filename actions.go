package oidcstore

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "oidcstore."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// fail wraps err with base, records it as the last error and returns it.
func (s *Store) fail(ctx context.Context, base *goerrors.Error, source string, err error) error {
	werr := wrapAuthError(base, source, err)
	s.SetError(ctx, NewErrorPayload(source, werr))
	return werr
}

func (s *Store) silentOptions(opts *SigninSilentOptions) SigninSilentOptions {
	if opts != nil {
		return *opts
	}
	if s.settings.DefaultSigninSilentOptions != nil {
		return *s.settings.DefaultSigninSilentOptions
	}
	return SigninSilentOptions{}
}

func (s *Store) redirectOptions(opts *SigninRedirectOptions) SigninRedirectOptions {
	var out SigninRedirectOptions
	switch {
	case opts != nil:
		out = *opts
	case s.settings.DefaultSigninRedirectOptions != nil:
		out = *s.settings.DefaultSigninRedirectOptions
	}
	return out.withDefaults(s.client)
}

func (s *Store) popupOptions(opts *SigninPopupOptions) SigninPopupOptions {
	if opts != nil {
		return *opts
	}
	if s.settings.DefaultSigninPopupOptions != nil {
		return *s.settings.DefaultSigninPopupOptions
	}
	return SigninPopupOptions{}
}

// AuthenticateSilent renews the session without user interaction. Nil opts
// fall back to StoreSettings.DefaultSigninSilentOptions.
//
// The store is marked checked on failure. With IgnoreErrors the failure
// resolves to a nil user and no error is recorded.
func (s *Store) AuthenticateSilent(ctx context.Context, opts *SigninSilentOptions) (user *User, err error) {
	ctx, span := s.startSpan(ctx, "AuthenticateSilent")
	defer func() { endSpan(span, err) }()

	options := s.silentOptions(opts)

	user, err = s.manager.SigninSilent(ctx, options)
	if err != nil {
		s.metrics.SilentRenew("failure")
		s.MarkChecked()
		if options.IgnoreErrors {
			s.logger.Debug("silent authentication failed, ignoring", "error", err)
			return nil, nil
		}
		return nil, s.fail(ctx, ErrSilentAuth, SourceAuthenticateSilent, err)
	}

	s.metrics.SilentRenew("success")
	s.WasAuthenticated(ctx, user)
	return user, nil
}

// Authenticate starts an interactive redirect. The redirect path is kept
// in the RedirectStore for SignInCallback; an empty path clears it.
func (s *Store) Authenticate(ctx context.Context, req AuthenticateRequest) (err error) {
	ctx, span := s.startSpan(ctx, "Authenticate", attribute.String("redirect.path", req.RedirectPath))
	defer func() { endSpan(span, err) }()

	s.persistRedirectPath(ctx, req.RedirectPath)
	return s.signinRedirect(ctx, req.Options)
}

func (s *Store) persistRedirectPath(ctx context.Context, path string) {
	if path != "" {
		if err := s.redirects.Set(ctx, ActiveRouteKey, path); err != nil {
			s.logger.Warn("unable to persist redirect path", "path", path, "error", err)
		}
		return
	}
	if err := s.redirects.Delete(ctx, ActiveRouteKey); err != nil {
		s.logger.Warn("unable to clear redirect path", "error", err)
	}
}

func (s *Store) signinRedirect(ctx context.Context, opts *SigninRedirectOptions) error {
	if err := s.manager.SigninRedirect(ctx, s.redirectOptions(opts)); err != nil {
		return s.fail(ctx, ErrInteractiveAuth, SourceAuthenticate, err)
	}
	s.metrics.Redirect()
	return nil
}

// SignInCallback completes an interactive redirect and returns the path the
// user originally asked for, or "/".
func (s *Store) SignInCallback(ctx context.Context, url string) (path string, err error) {
	ctx, span := s.startSpan(ctx, "SignInCallback")
	defer func() { endSpan(span, err) }()

	user, err := s.manager.SigninRedirectCallback(ctx, url)
	if err != nil {
		err = s.fail(ctx, ErrCallback, SourceSignInCallback, err)
		s.MarkChecked()
		return "", err
	}

	s.WasAuthenticated(ctx, user)

	path, rerr := s.redirects.Get(ctx, ActiveRouteKey)
	if rerr != nil {
		s.logger.Warn("unable to read redirect path", "error", rerr)
	}
	if path == "" {
		path = "/"
	}
	return path, nil
}

// AuthenticatePopup signs in through a popup window. The error is always
// recorded; with IgnoreErrors it is not returned.
func (s *Store) AuthenticatePopup(ctx context.Context, opts *SigninPopupOptions) (user *User, err error) {
	ctx, span := s.startSpan(ctx, "AuthenticatePopup")
	defer func() { endSpan(span, err) }()

	options := s.popupOptions(opts)

	user, err = s.manager.SigninPopup(ctx, options)
	if err != nil {
		err = s.fail(ctx, ErrPopupAuth, SourceAuthenticatePopup, err)
		if options.IgnoreErrors {
			return nil, nil
		}
		return nil, err
	}

	s.WasAuthenticated(ctx, user)
	return user, nil
}

// SignInPopupCallback completes a popup sign in from the popup side.
func (s *Store) SignInPopupCallback(ctx context.Context, url string) error {
	if err := s.manager.SigninPopupCallback(ctx, url); err != nil {
		err = s.fail(ctx, ErrCallback, SourceSignInPopupCallback, err)
		s.MarkChecked()
		return err
	}
	return nil
}

// WasAuthenticated caches user and binds the token lifecycle listeners the
// first time it runs. The checked flag is always set last.
func (s *Store) WasAuthenticated(ctx context.Context, user *User) {
	if user != nil {
		s.SetAuthenticated(user)
	}

	if s.claimEventBinding() {
		s.bindTokenEvents(context.WithoutCancel(ctx))
	}

	s.MarkChecked()
}

func (s *Store) bindTokenEvents(ctx context.Context) {
	events := s.manager.Events()
	if events == nil {
		return
	}

	events.AddAccessTokenExpired(func() {
		s.ClearAuthenticated()
	})

	if !s.client.AutomaticSilentRenew {
		return
	}

	events.AddAccessTokenExpiring(func() {
		if _, err := s.AuthenticateSilent(ctx, nil); err != nil {
			s.dispatchError(ctx, EventAutomaticSilentRenewError, NewErrorPayload(SourceAuthenticateSilent, err))
		}
	})
}

// StoreUser hands user to the manager and loads it back as the session.
func (s *Store) StoreUser(ctx context.Context, user *User) error {
	err := s.manager.StoreUser(ctx, user)
	if err == nil {
		var stored *User
		if stored, err = s.manager.GetUser(ctx); err == nil {
			s.WasAuthenticated(ctx, stored)
			return nil
		}
	}

	err = s.fail(ctx, ErrStoreUser, SourceStoreUser, err)
	s.MarkChecked()
	return err
}

// GetUser reads the manager cache and refreshes the store copy without
// clearing the last error.
func (s *Store) GetUser(ctx context.Context) (*User, error) {
	user, err := s.manager.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		s.SetUser(user)
	}
	return user, nil
}

// AddEventListener registers fn for a UserManager event.
func (s *Store) AddEventListener(name EventName, fn EventHandler) Subscription {
	events := s.manager.Events()
	if events == nil || fn == nil {
		return Subscription{Event: name}
	}
	return events.AddListener(name, fn)
}

// RemoveEventListener removes a listener added with AddEventListener.
func (s *Store) RemoveEventListener(sub Subscription) {
	if events := s.manager.Events(); events != nil {
		events.RemoveListener(sub)
	}
}

// SignOut ends the session through a redirect to the identity provider.
func (s *Store) SignOut(ctx context.Context, opts SignoutOptions) (err error) {
	ctx, span := s.startSpan(ctx, "SignOut")
	defer func() { endSpan(span, err) }()

	if err = s.manager.SignoutRedirect(ctx, opts); err != nil {
		return s.fail(ctx, ErrSignOut, SourceSignOut, err)
	}
	s.ClearAuthenticated()
	return nil
}

// SignOutCallback completes a redirect sign out.
func (s *Store) SignOutCallback(ctx context.Context, url string) error {
	if err := s.manager.SignoutRedirectCallback(ctx, url); err != nil {
		return s.fail(ctx, ErrCallback, SourceSignOutCallback, err)
	}
	return nil
}

// SignOutPopup ends the session through a popup window.
func (s *Store) SignOutPopup(ctx context.Context, opts SignoutOptions) error {
	if err := s.manager.SignoutPopup(ctx, opts); err != nil {
		return s.fail(ctx, ErrSignOut, SourceSignOutPopup, err)
	}
	s.ClearAuthenticated()
	return nil
}

// SignOutPopupCallback completes a popup sign out from the popup side.
func (s *Store) SignOutPopupCallback(ctx context.Context, url string) error {
	if err := s.manager.SignoutPopupCallback(ctx, url); err != nil {
		return s.fail(ctx, ErrCallback, SourceSignOutPopupCB, err)
	}
	return nil
}

// SignOutSilent loads the end session URL out of band and removes the
// local user once it finished loading. The load is bounded by the frame
// timeout.
func (s *Store) SignOutSilent(ctx context.Context, opts SignoutOptions) (err error) {
	ctx, span := s.startSpan(ctx, "SignOutSilent")
	defer func() { endSpan(span, err) }()

	if s.signout == nil {
		return s.fail(ctx, ErrSignOut, SourceSignOutSilent, ErrNoSignoutFactory)
	}

	args := SignoutRequestArgs{
		IDTokenHint:           opts.IDTokenHint,
		PostLogoutRedirectURI: opts.PostLogoutRedirectURI,
		State:                 opts.State,
		ExtraQueryParams:      opts.ExtraQueryParams,
	}

	if args.IDTokenHint == "" {
		user, uerr := s.manager.GetUser(ctx)
		if uerr != nil {
			return s.fail(ctx, ErrSignOut, SourceSignOutSilent, uerr)
		}
		if user != nil {
			args.IDTokenHint = user.IDToken
		}
	}

	req, err := s.signout.CreateSignoutRequest(ctx, args)
	if err != nil {
		return s.fail(ctx, ErrSignOut, SourceSignOutSilent, err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.frameTimeout)
	defer cancel()

	if err = s.frames.Load(loadCtx, req.URL); err != nil {
		return s.fail(ctx, ErrSignOut, SourceSignOutSilent, err)
	}

	return s.RemoveUser(ctx)
}

// RemoveUser drops the user from the manager cache and the store.
func (s *Store) RemoveUser(ctx context.Context) error {
	if err := s.manager.RemoveUser(ctx); err != nil {
		return s.fail(ctx, ErrSignOut, SourceRemoveUser, err)
	}
	s.ClearAuthenticated()
	return nil
}

// ClearStaleState removes abandoned sign in state from the manager.
func (s *Store) ClearStaleState(ctx context.Context) error {
	return s.manager.ClearStaleState(ctx)
}
