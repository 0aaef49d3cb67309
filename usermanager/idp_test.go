package usermanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	oidcstore "github.com/goliatone/go-oidc-store"
)

const (
	testClientID = "spa"
	testKID      = "k1"
)

var testSigningKey = []byte("idp-signing-secret")

// fakeIdP is a minimal OpenID provider backed by httptest.
type fakeIdP struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	challenge     string
	nonce         string
	idTokenNonce  string
	refreshTokens map[string]bool
	tokenRequests []url.Values
	userinfo      map[string]any
	noEndSession  bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	idp := &fakeIdP{t: t, refreshTokens: map[string]bool{"refresh-1": true}}

	mux := http.NewServeMux()
	mux.HandleFunc(WellKnownPath, idp.discovery)
	mux.HandleFunc("/token", idp.token)
	mux.HandleFunc("/userinfo", idp.userinfoHandler)

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (p *fakeIdP) URL() string { return p.srv.URL }

func (p *fakeIdP) metadata() *Metadata {
	md := &Metadata{
		Issuer:                p.srv.URL,
		AuthorizationEndpoint: p.srv.URL + "/authorize",
		TokenEndpoint:         p.srv.URL + "/token",
		UserinfoEndpoint:      p.srv.URL + "/userinfo",
	}
	if !p.noEndSession {
		md.EndSessionEndpoint = p.srv.URL + "/logout"
	}
	return md
}

func (p *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.metadata())
}

// authorize records what the browser would have sent to /authorize.
func (p *fakeIdP) authorize(rawURL string) (state string) {
	p.t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(p.t, err)
	require.Equal(p.t, "/authorize", u.Path)

	q := u.Query()
	require.Equal(p.t, "S256", q.Get("code_challenge_method"))

	p.mu.Lock()
	p.challenge = q.Get("code_challenge")
	p.nonce = q.Get("nonce")
	if p.idTokenNonce == "" {
		p.idTokenNonce = p.nonce
	}
	p.mu.Unlock()

	return q.Get("state")
}

func (p *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())

	p.mu.Lock()
	p.tokenRequests = append(p.tokenRequests, r.PostForm)
	challenge := p.challenge
	nonce := p.idTokenNonce
	p.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" ||
			oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
			p.fail(w, "invalid_grant")
			return
		}
		p.respond(w, "access-1", "refresh-1", p.idToken(nonce))
	case "refresh_token":
		p.mu.Lock()
		ok := p.refreshTokens[r.PostForm.Get("refresh_token")]
		p.mu.Unlock()
		if !ok {
			p.fail(w, "invalid_grant")
			return
		}
		p.respond(w, "access-2", "", p.idToken(""))
	default:
		p.fail(w, "unsupported_grant_type")
	}
}

func (p *fakeIdP) respond(w http.ResponseWriter, access, refresh, idToken string) {
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "openid profile",
		"id_token":     idToken,
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (p *fakeIdP) fail(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func (p *fakeIdP) userinfoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer access-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.mu.Lock()
	info := p.userinfo
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

func (p *fakeIdP) idToken(nonce string) string {
	p.t.Helper()

	claims := jwt.MapClaims{
		"iss":  p.srv.URL,
		"aud":  testClientID,
		"sub":  "user-1",
		"name": "Ada",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = testKID

	signed, err := token.SignedString(testSigningKey)
	require.NoError(p.t, err)
	return signed
}

func (p *fakeIdP) grantTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tokenRequests))
	for _, r := range p.tokenRequests {
		out = append(out, r.Get("grant_type"))
	}
	return out
}

func testKeyfunc() jwt.Keyfunc {
	return keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		testKID: keyfunc.NewGivenHMAC(testSigningKey, keyfunc.GivenKeyOptions{Algorithm: "HS256"}),
	}).Keyfunc
}

func testSettings(idp *fakeIdP) oidcstore.ClientSettings {
	return oidcstore.ClientSettings{
		Authority:             idp.URL(),
		ClientID:              testClientID,
		RedirectURI:           "https://app.example.com/oidc-callback",
		PopupRedirectURI:      "https://app.example.com/oidc-popup-callback",
		PostLogoutRedirectURI: "https://app.example.com/signed-out",
		Scope:                 "openid profile",
		ResponseType:          "code",
	}
}

func newTestManager(t *testing.T, idp *fakeIdP, opts ...Option) *Manager {
	t.Helper()

	base := []Option{
		WithMetadata(idp.metadata()),
		WithKeyfunc(testKeyfunc()),
		WithLogger(oidcstore.NopLogger()),
	}

	m, err := New(context.Background(), testSettings(idp), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// signinRedirect runs SigninRedirect and returns the callback URL the
// provider would send the browser back to.
func signinRedirect(t *testing.T, m *Manager, idp *fakeIdP) string {
	t.Helper()

	rec := &oidcstore.RedirectRecorder{}
	ctx := oidcstore.WithNavigator(context.Background(), rec)
	require.NoError(t, m.SigninRedirect(ctx, oidcstore.SigninRedirectOptions{}))
	require.True(t, strings.HasPrefix(rec.URL(), idp.URL()+"/authorize?"))

	state := idp.authorize(rec.URL())
	return "https://app.example.com/oidc-callback?code=good-code&state=" + url.QueryEscape(state)
}
