package oidcstore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

const (
	flightRedirect = "signin_redirect"
	flightSilent   = "signin_silent"
)

// CheckAccess decides whether route may be entered with the current
// session. It never returns an error: failures of the authentication calls
// it makes are recorded on the store and resolve to a denial.
//
// Callback routes are always granted. A valid cached user grants access
// and is loaded into the store. Public routes are granted; when silent
// sign in is configured a redirect and a silent renewal are started in the
// background. Protected routes try a silent renewal when configured and
// otherwise start an interactive redirect that restores route.FullPath.
func (s *Store) CheckAccess(ctx context.Context, route Route) bool {
	ctx, span := s.startSpan(ctx, "CheckAccess", attribute.String("route.path", route.Path))
	defer span.End()

	outcome := func(granted bool, reason string) bool {
		result := OutcomeDenied
		if granted {
			result = OutcomeGranted
		}
		span.SetAttributes(
			attribute.String("access.outcome", result),
			attribute.String("access.reason", reason),
		)
		s.metrics.AccessCheck(result, reason)
		return granted
	}

	if s.routes.IsCallback(route) {
		return outcome(true, ReasonCallback)
	}

	wasAuthenticated := s.IsAuthenticated()

	user, err := s.manager.GetUser(ctx)
	if err != nil {
		s.logger.Debug("cached user lookup failed", "error", err)
		user = nil
	}

	if s.validUser(user) {
		s.WasAuthenticated(ctx, user)
		if !wasAuthenticated {
			s.observer.UserLoaded(user)
			s.notify(ctx, EventUserLoaded, user)
		}
		return outcome(true, ReasonAuthenticated)
	}

	silent := s.client.SilentSigninConfigured()

	if s.routes.IsPublic(route) {
		if wasAuthenticated {
			s.ClearAuthenticated()
		}
		if silent {
			s.tasks.Go(ctx, flightRedirect, func(ctx context.Context) error {
				return s.sharedRedirect(ctx, "")
			})
			s.tasks.Go(ctx, flightSilent, func(ctx context.Context) error {
				_, err := s.sharedSilent(ctx)
				return err
			})
		}
		return outcome(true, ReasonPublic)
	}

	authenticate := func() {
		if wasAuthenticated {
			s.ClearAuthenticated()
		}
		if err := s.sharedRedirect(ctx, route.fullPath()); err != nil {
			s.logger.Debug("interactive authentication failed", "path", route.fullPath(), "error", err)
		}
	}

	if !silent {
		authenticate()
		return outcome(false, ReasonRedirect)
	}

	if _, err := s.sharedSilent(ctx); err != nil {
		authenticate()
		return outcome(false, ReasonSilentFailed)
	}

	user, err = s.manager.GetUser(ctx)
	if err != nil {
		authenticate()
		return outcome(false, ReasonSilentFailed)
	}
	if !s.validUser(user) {
		authenticate()
		return outcome(false, ReasonSilentFailed)
	}
	return outcome(true, ReasonSilentRenewed)
}

func (s *Store) validUser(user *User) bool {
	return user != nil && !user.Expired(s.now())
}

// sharedSilent runs one silent renewal for all overlapping callers. The
// shared call is detached from the first caller's cancellation.
func (s *Store) sharedSilent(ctx context.Context) (*User, error) {
	v, err, _ := s.flights.Do(flightSilent, func() (any, error) {
		opts := s.silentOptions(nil)
		opts.IgnoreErrors = true
		return s.AuthenticateSilent(context.WithoutCancel(ctx), &opts)
	})
	user, _ := v.(*User)
	return user, err
}

// sharedRedirect runs one interactive redirect for all overlapping callers.
// Each caller keeps its own restoration path and is sent to the shared
// authorize URL through its own Navigator. A pathless redirect never clears
// the path of a redirect still in flight.
func (s *Store) sharedRedirect(ctx context.Context, path string) error {
	if s.claimRedirectPath(ctx, path) {
		defer s.releaseRedirectPath()
	}

	v, err, _ := s.flights.Do(flightRedirect, func() (any, error) {
		rec := &RedirectRecorder{}
		fctx, span := s.startSpan(context.WithoutCancel(ctx), "Authenticate")
		err := s.signinRedirect(WithNavigator(fctx, rec), nil)
		endSpan(span, err)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return err
	}

	rec, _ := v.(*RedirectRecorder)
	if rec == nil || rec.URL() == "" {
		return nil
	}

	nav, ok := NavigatorFromContext(ctx)
	if !ok {
		s.logger.Debug("no navigator for interactive redirect", "url", rec.URL())
		return nil
	}
	return nav.Navigate(ctx, rec.URL(), rec.Replace())
}

// claimRedirectPath persists path for SignInCallback. It reports whether
// the caller must release the claim.
func (s *Store) claimRedirectPath(ctx context.Context, path string) bool {
	s.pathMu.Lock()
	defer s.pathMu.Unlock()

	if path == "" {
		if s.pendingPaths == 0 {
			s.persistRedirectPath(ctx, "")
		}
		return false
	}

	s.pendingPaths++
	s.persistRedirectPath(ctx, path)
	return true
}

func (s *Store) releaseRedirectPath() {
	s.pathMu.Lock()
	s.pendingPaths--
	s.pathMu.Unlock()
}
