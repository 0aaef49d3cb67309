package usermanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WellKnownPath is appended to the authority to locate provider metadata.
const WellKnownPath = "/.well-known/openid-configuration"

// Metadata is the subset of the provider configuration the manager uses.
type Metadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// Discover fetches the provider metadata published under authority.
func Discover(ctx context.Context, client *http.Client, authority string) (*Metadata, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	endpoint := strings.TrimRight(authority, "/") + WellKnownPath
	meta := map[string]any{"authority": authority}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, wrap(ErrDiscovery, err, meta)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, wrap(ErrDiscovery, err, meta)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrap(ErrDiscovery, err, meta)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, wrap(ErrDiscovery, fmt.Errorf("unexpected status %d", resp.StatusCode), meta)
	}

	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, wrap(ErrDiscovery, fmt.Errorf("decode metadata: %w", err), meta)
	}

	if md.AuthorizationEndpoint == "" || md.TokenEndpoint == "" {
		return nil, wrap(ErrDiscovery, fmt.Errorf("metadata is missing authorization or token endpoint"), meta)
	}

	return &md, nil
}
