package oidcstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientSettingsFromEnvMap(t *testing.T) {
	cfg, err := LoadClientSettingsFromEnvMap(map[string]string{
		"OIDC_AUTHORITY":               "https://idp.example.com",
		"OIDC_CLIENT_ID":               "app",
		"OIDC_REDIRECT_URI":            "https://app.example.com/oidc-callback",
		"OIDC_SILENT_REDIRECT_URI":     "https://app.example.com/silent-renew",
		"OIDC_AUTOMATIC_SILENT_SIGNIN": "true",
		"OIDC_EXTRA_QUERY_PARAMS":      "audience:api,ui_locales:en",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://idp.example.com", cfg.Authority)
	assert.Equal(t, "app", cfg.ClientID)
	assert.Equal(t, "openid profile", cfg.Scope)
	assert.Equal(t, "code", cfg.ResponseType)
	assert.Equal(t, map[string]string{"audience": "api", "ui_locales": "en"}, cfg.ExtraQueryParams)
	assert.True(t, cfg.SilentSigninConfigured())
	assert.NoError(t, cfg.Validate())
}

func TestClientSettingsValidate(t *testing.T) {
	err := ClientSettings{ClientID: "app", ResponseType: "token"}.Validate()
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeInvalidConfig))
}

func TestSilentSigninConfigured(t *testing.T) {
	c := baseClientSettings()
	assert.False(t, c.SilentSigninConfigured())

	c.SilentRedirectURI = "https://app.example.com/silent-renew"
	assert.False(t, c.SilentSigninConfigured())

	c.AutomaticSilentSignin = true
	assert.True(t, c.SilentSigninConfigured())
}

func TestStoreSettingsDefaults(t *testing.T) {
	s := StoreSettings{}.withDefaults()
	assert.Equal(t, AuthenticatedByIDToken, s.IsAuthenticatedBy)
	assert.Equal(t, "/", s.RouteBase)

	assert.NoError(t, StoreSettings{IsAuthenticatedBy: AuthenticatedByAccessToken}.Validate())
	assert.Error(t, StoreSettings{IsAuthenticatedBy: "session"}.Validate())
}
