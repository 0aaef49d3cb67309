// Package oidcstore binds an OpenID Connect user-session manager to an
// observable authentication state and a navigation guard.
//
// Store:
//   - Store is the single source of truth for one authentication session:
//     the cached user, the "checked" flag, the "events bound" flag and the
//     last error. It is an explicit value owned by the composition root; no
//     package level singleton is kept.
//   - Getters (IsAuthenticated, AccessToken, IDToken, Scopes, ...) are pure
//     reads. Token getters hide tokens whose embedded exp claim has passed.
//
// Access checks:
//   - CheckAccess decides, for a navigation target, whether to grant access,
//     start an interactive redirect, or try a silent renewal first. Callback
//     routes always pass. Public routes always pass.
//   - Interactive redirects and silent renewals are de-duplicated per store so
//     overlapping checks share one in-flight call.
//   - Fire-and-forget work runs on a tracked task group. Failures there are
//     logged and counted but never surfaced to the caller.
//
// Session manager:
//   - The protocol work (discovery, PKCE, token exchange, refresh) lives behind
//     the UserManager interface. The usermanager package provides an
//     implementation on top of golang.org/x/oauth2.
//
// Guard:
//   - NewNavigationGuard adapts CheckAccess to a (to, from, next) callback and
//     Middleware adapts it to go-router.
package oidcstore
