package oidcstore

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// AuthenticatedBy selects which token makes a user count as authenticated.
type AuthenticatedBy string

const (
	AuthenticatedByIDToken     AuthenticatedBy = "id_token"
	AuthenticatedByAccessToken AuthenticatedBy = "access_token"
)

// ActiveRouteKey is the well known key under which the requested path is
// kept across an interactive redirect.
const ActiveRouteKey = "oidc_active_route"

// ClientSettings holds the OIDC client configuration.
type ClientSettings struct {
	Authority             string            `env:"AUTHORITY" json:"authority"`
	ClientID              string            `env:"CLIENT_ID" json:"client_id"`
	ClientSecret          string            `env:"CLIENT_SECRET" json:"-"`
	RedirectURI           string            `env:"REDIRECT_URI" json:"redirect_uri"`
	PopupRedirectURI      string            `env:"POPUP_REDIRECT_URI" json:"popup_redirect_uri,omitempty"`
	SilentRedirectURI     string            `env:"SILENT_REDIRECT_URI" json:"silent_redirect_uri,omitempty"`
	PostLogoutRedirectURI string            `env:"POST_LOGOUT_REDIRECT_URI" json:"post_logout_redirect_uri,omitempty"`
	Scope                 string            `env:"SCOPE" envDefault:"openid profile" json:"scope"`
	ResponseType          string            `env:"RESPONSE_TYPE" envDefault:"code" json:"response_type"`
	LoginHint             string            `env:"LOGIN_HINT" json:"login_hint,omitempty"`
	ExtraQueryParams      map[string]string `env:"EXTRA_QUERY_PARAMS" json:"extra_query_params,omitempty"`
	AutomaticSilentRenew  bool              `env:"AUTOMATIC_SILENT_RENEW" json:"automatic_silent_renew"`
	AutomaticSilentSignin bool              `env:"AUTOMATIC_SILENT_SIGNIN" json:"automatic_silent_signin"`
}

// Validate checks the client settings.
func (c ClientSettings) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Authority, validation.Required, is.URL),
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.RedirectURI, validation.Required, is.URL),
		validation.Field(&c.PopupRedirectURI, is.URL),
		validation.Field(&c.SilentRedirectURI, is.URL),
		validation.Field(&c.PostLogoutRedirectURI, is.URL),
		validation.Field(&c.ResponseType, validation.In("code")),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid oidc client settings").
			WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

// SilentSigninConfigured reports whether access checks may try a silent
// renewal before redirecting.
func (c ClientSettings) SilentSigninConfigured() bool {
	return c.SilentRedirectURI != "" && c.AutomaticSilentSignin
}

// LoadClientSettingsFromEnv reads ClientSettings from OIDC_* variables.
func LoadClientSettingsFromEnv() (ClientSettings, error) {
	return LoadClientSettingsFromEnvMap(nil)
}

// LoadClientSettingsFromEnvMap is LoadClientSettingsFromEnv with an explicit
// environment. A nil map reads the process environment.
func LoadClientSettingsFromEnvMap(environ map[string]string) (ClientSettings, error) {
	var cfg ClientSettings
	opts := env.Options{Prefix: "OIDC_", Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse oidc env: %w", err)
	}
	return cfg, nil
}

// RouteMatcher decides whether a route is public.
type RouteMatcher func(route Route) bool

// StoreSettings holds store level behavior.
type StoreSettings struct {
	// DispatchEventsOnTarget mirrors observer notifications onto the
	// configured EventTarget.
	DispatchEventsOnTarget bool
	IsPublicRoute          RouteMatcher
	PublicRoutePaths       []string
	RouteBase              string
	IsAuthenticatedBy      AuthenticatedBy

	DefaultSigninRedirectOptions *SigninRedirectOptions
	DefaultSigninSilentOptions   *SigninSilentOptions
	DefaultSigninPopupOptions    *SigninPopupOptions
}

func (s StoreSettings) withDefaults() StoreSettings {
	if s.IsAuthenticatedBy == "" {
		s.IsAuthenticatedBy = AuthenticatedByIDToken
	}
	if strings.TrimSpace(s.RouteBase) == "" {
		s.RouteBase = "/"
	}
	return s
}

// Validate checks the store settings.
func (s StoreSettings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.IsAuthenticatedBy, validation.In(
			AuthenticatedByIDToken,
			AuthenticatedByAccessToken,
		)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid oidc store settings").
			WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}
