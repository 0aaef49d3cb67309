package oidcstore

import (
	"net/url"
	"strings"
)

// RouteMeta is the metadata attached to a route definition.
type RouteMeta struct {
	IsPublic       bool
	IsOidcCallback bool
	Extra          map[string]any
}

// Route is a navigation target. Meta holds one entry for a flat route or
// one entry per matched record for nested routes.
type Route struct {
	Path     string
	FullPath string
	Meta     []RouteMeta
}

// NewRoute builds a Route from a path, using it as the full path too.
func NewRoute(path string, meta ...RouteMeta) Route {
	return Route{Path: path, FullPath: path, Meta: meta}
}

func (r Route) fullPath() string {
	if r.FullPath != "" {
		return r.FullPath
	}
	return r.Path
}

func (r Route) anyMeta(pred func(RouteMeta) bool) bool {
	for _, m := range r.Meta {
		if pred(m) {
			return true
		}
	}
	return false
}

func normalizePath(p string) string {
	return strings.TrimSuffix(p, "/")
}

// RouteClassifier decides whether routes are public or OIDC callbacks.
type RouteClassifier struct {
	publicPaths   map[string]struct{}
	isPublic      RouteMatcher
	callbackPaths []string
}

// NewRouteClassifier builds a classifier from the client and store settings.
func NewRouteClassifier(client ClientSettings, settings StoreSettings) *RouteClassifier {
	settings = settings.withDefaults()

	rc := &RouteClassifier{
		publicPaths: make(map[string]struct{}, len(settings.PublicRoutePaths)),
		isPublic:    settings.IsPublicRoute,
	}
	for _, p := range settings.PublicRoutePaths {
		rc.publicPaths[normalizePath(p)] = struct{}{}
	}

	for _, uri := range []string{client.RedirectURI, client.PopupRedirectURI, client.SilentRedirectURI} {
		if p, ok := CallbackPath(uri, settings.RouteBase); ok {
			rc.callbackPaths = append(rc.callbackPaths, p)
		}
	}
	return rc
}

// IsPublic checks route metadata, then the public path set, then the
// configured predicate. The first match wins.
func (rc *RouteClassifier) IsPublic(route Route) bool {
	if route.anyMeta(func(m RouteMeta) bool { return m.IsPublic }) {
		return true
	}
	if _, ok := rc.publicPaths[normalizePath(route.Path)]; ok {
		return true
	}
	if rc.isPublic != nil {
		return rc.isPublic(route)
	}
	return false
}

// IsCallback reports whether the route is one of the redirect, popup or
// silent callback endpoints.
func (rc *RouteClassifier) IsCallback(route Route) bool {
	if route.anyMeta(func(m RouteMeta) bool { return m.IsOidcCallback }) {
		return true
	}
	if route.Path == "" {
		return false
	}
	path := normalizePath(route.Path)
	for _, cb := range rc.callbackPaths {
		if path == cb {
			return true
		}
	}
	return false
}

// CallbackPaths returns the normalized callback paths.
func (rc *RouteClassifier) CallbackPaths() []string {
	return append([]string(nil), rc.callbackPaths...)
}

// CallbackPath returns the path of a redirect URI relative to routeBase,
// without a trailing slash.
func CallbackPath(uri, routeBase string) (string, bool) {
	if uri == "" {
		return "", false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}

	path := u.Path
	if u.Fragment != "" && strings.HasPrefix(u.Fragment, "/") {
		// hash routers keep the route after the fragment marker
		path = u.Fragment
	}

	base := normalizePath(routeBase)
	if base != "" && strings.HasPrefix(path, base) {
		path = strings.TrimPrefix(path, base)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	path = normalizePath(path)
	if path == "" {
		return "", false
	}
	return path, true
}
