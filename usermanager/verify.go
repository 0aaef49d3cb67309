package usermanager

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	oidcstore "github.com/goliatone/go-oidc-store"
)

// NewJWKSKeyfunc loads the provider key set from url and keeps it fresh
// in the background. Call EndBackground on the result when done.
func NewJWKSKeyfunc(ctx context.Context, url string, client *http.Client, logger oidcstore.Logger) (*keyfunc.JWKS, error) {
	if logger == nil {
		logger = oidcstore.NopLogger()
	}

	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:    ctx,
		Client: client,
		RefreshErrorHandler: func(err error) {
			logger.Error("failed to do a background refresh of the provider key set", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, wrap(ErrDiscovery, fmt.Errorf("load jwks: %w", err), map[string]any{"jwks_uri": url})
	}
	return jwks, nil
}

// verifyIDToken checks the signature, issuer, audience, expiry and nonce of
// raw and returns its claims. Without a keyfunc the token is only decoded.
func (m *Manager) verifyIDToken(raw, nonce string) (map[string]any, error) {
	claims := jwt.MapClaims{}

	if m.keyfunc == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, wrap(ErrIDTokenInvalid, err)
		}
	} else {
		parserOptions := []jwt.ParserOption{
			jwt.WithAudience(m.settings.ClientID),
			jwt.WithTimeFunc(m.now),
			jwt.WithLeeway(m.leeway),
			jwt.WithExpirationRequired(),
		}
		if m.metadata.Issuer != "" {
			parserOptions = append(parserOptions, jwt.WithIssuer(m.metadata.Issuer))
		}

		if _, err := jwt.ParseWithClaims(raw, claims, m.keyfunc, parserOptions...); err != nil {
			return nil, wrap(ErrIDTokenInvalid, err)
		}
	}

	if nonce != "" {
		if got, _ := claims["nonce"].(string); got != nonce {
			return nil, wrap(ErrIDTokenInvalid, fmt.Errorf("nonce mismatch"))
		}
	}

	return map[string]any(claims), nil
}
