package usermanager

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidcstore "github.com/goliatone/go-oidc-store"
)

func TestDiscover(t *testing.T) {
	idp := newFakeIdP(t)

	md, err := Discover(context.Background(), http.DefaultClient, idp.URL()+"/")
	require.NoError(t, err)
	assert.Equal(t, idp.URL(), md.Issuer)
	assert.Equal(t, idp.URL()+"/token", md.TokenEndpoint)
	assert.Equal(t, idp.URL()+"/logout", md.EndSessionEndpoint)
}

func TestDiscoverFailure(t *testing.T) {
	idp := newFakeIdP(t)

	_, err := Discover(context.Background(), nil, idp.URL()+"/missing")
	require.Error(t, err)
	assert.True(t, oidcstore.IsErrorKind(err, ErrDiscovery))
}

func TestNewDiscoversMetadata(t *testing.T) {
	idp := newFakeIdP(t)

	m, err := New(context.Background(), testSettings(idp),
		WithKeyfunc(testKeyfunc()),
		WithLogger(oidcstore.NopLogger()))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, idp.URL()+"/authorize", m.Metadata().AuthorizationEndpoint)
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := New(context.Background(), oidcstore.ClientSettings{ClientID: "spa"})
	require.Error(t, err)
	assert.True(t, oidcstore.HasTextCode(err, oidcstore.TextCodeInvalidConfig))
}

func TestSigninRedirectRequiresNavigator(t *testing.T) {
	m := newTestManager(t, newFakeIdP(t))

	err := m.SigninRedirect(context.Background(), oidcstore.SigninRedirectOptions{})
	assert.True(t, oidcstore.IsErrorKind(err, ErrNoNavigator))
}

func TestSigninRedirectBuildsAuthorizeURL(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	rec := &oidcstore.RedirectRecorder{}
	ctx := oidcstore.WithNavigator(context.Background(), rec)
	require.NoError(t, m.SigninRedirect(ctx, oidcstore.SigninRedirectOptions{
		UseReplaceToNavigate: true,
		Prompt:               "login",
		LoginHint:            "ada@example.com",
		ExtraQueryParams:     map[string]string{"ui_locales": "en"},
	}))

	u, err := url.Parse(rec.URL())
	require.NoError(t, err)
	q := u.Query()

	assert.True(t, rec.Replace())
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "https://app.example.com/oidc-callback", q.Get("redirect_uri"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "ada@example.com", q.Get("login_hint"))
	assert.Equal(t, "en", q.Get("ui_locales"))
	assert.NotEmpty(t, q.Get("nonce"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
}

func TestSigninRedirectCallback(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	var loaded []*oidcstore.User
	m.Events().AddListener(oidcstore.EventUserLoaded, func(p any) {
		loaded = append(loaded, p.(*oidcstore.User))
	})

	callback := signinRedirect(t, m, idp)

	user, err := m.SigninRedirectCallback(context.Background(), callback)
	require.NoError(t, err)

	assert.Equal(t, "access-1", user.AccessToken)
	assert.Equal(t, "refresh-1", user.RefreshToken)
	assert.Equal(t, "user-1", user.Subject())
	assert.Equal(t, []string{"openid", "profile"}, user.Scopes())
	assert.NotEmpty(t, user.IDToken)
	assert.Greater(t, user.ExpiresAt, time.Now().Unix())

	cached, err := m.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, user.AccessToken, cached.AccessToken)

	require.Len(t, loaded, 1)
	assert.Same(t, user, loaded[0])

	_, err = m.SigninRedirectCallback(context.Background(), callback)
	assert.True(t, oidcstore.IsErrorKind(err, ErrInvalidState), "state can only be used once")
}

func TestSigninRedirectCallbackReadsFragment(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	callback := signinRedirect(t, m, idp)
	u, _ := url.Parse(callback)
	fragment := "https://app.example.com/oidc-callback#" + u.RawQuery

	user, err := m.SigninRedirectCallback(context.Background(), fragment)
	require.NoError(t, err)
	assert.Equal(t, "access-1", user.AccessToken)
}

func TestSigninRedirectCallbackProviderError(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	callback := signinRedirect(t, m, idp)
	u, _ := url.Parse(callback)
	q := u.Query()
	q.Del("code")
	q.Set("error", "access_denied")
	q.Set("error_description", "user cancelled")
	u.RawQuery = q.Encode()

	_, err := m.SigninRedirectCallback(context.Background(), u.String())
	require.Error(t, err)
	assert.True(t, oidcstore.IsErrorKind(err, ErrProviderResponse))

	var rich *errors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, "access_denied", rich.Metadata["error_code"])
}

func TestSigninRedirectCallbackRejectsTamperedState(t *testing.T) {
	m := newTestManager(t, newFakeIdP(t))

	_, err := m.SigninRedirectCallback(context.Background(),
		"https://app.example.com/oidc-callback?code=good-code&state=bogus")
	assert.True(t, oidcstore.IsErrorKind(err, ErrInvalidState))
}

func TestSigninRedirectCallbackNonceMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	idp.idTokenNonce = "someone-elses-nonce"
	m := newTestManager(t, idp)

	_, err := m.SigninRedirectCallback(context.Background(), signinRedirect(t, m, idp))
	assert.True(t, oidcstore.IsErrorKind(err, ErrIDTokenInvalid))

	user, _ := m.GetUser(context.Background())
	assert.Nil(t, user)
}

func TestSigninRedirectCallbackBadCode(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	callback := signinRedirect(t, m, idp)
	u, _ := url.Parse(callback)
	q := u.Query()
	q.Set("code", "stolen")
	u.RawQuery = q.Encode()

	_, err := m.SigninRedirectCallback(context.Background(), u.String())
	require.Error(t, err)
	assert.True(t, oidcstore.IsErrorKind(err, ErrTokenExchange))

	var rich *errors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, "invalid_grant", rich.Metadata["error_code"])
}

func TestSigninRedirectCallbackLoadsUserInfo(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userinfo = map[string]any{"sub": "user-1", "email": "ada@example.com"}
	m := newTestManager(t, idp, WithUserInfo(true))

	user, err := m.SigninRedirectCallback(context.Background(), signinRedirect(t, m, idp))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Profile["email"])
	assert.Equal(t, "Ada", user.Profile["name"])
}

func TestSigninRedirectCallbackUserInfoSubjectMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	idp.userinfo = map[string]any{"sub": "intruder"}
	m := newTestManager(t, idp, WithUserInfo(true))

	_, err := m.SigninRedirectCallback(context.Background(), signinRedirect(t, m, idp))
	assert.True(t, oidcstore.IsErrorKind(err, ErrIDTokenInvalid))
}

func TestSigninSilentRefreshesTokens(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	_, err := m.SigninRedirectCallback(context.Background(), signinRedirect(t, m, idp))
	require.NoError(t, err)

	user, err := m.SigninSilent(context.Background(), oidcstore.SigninSilentOptions{})
	require.NoError(t, err)

	assert.Equal(t, "access-2", user.AccessToken)
	assert.Equal(t, "refresh-1", user.RefreshToken, "refresh token is kept when not rotated")
	assert.Equal(t, "user-1", user.Subject())
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, idp.grantTypes())
}

func TestSigninSilentWithoutRefreshToken(t *testing.T) {
	m := newTestManager(t, newFakeIdP(t))

	var renewErr any
	m.Events().AddListener(oidcstore.EventSilentRenewError, func(p any) { renewErr = p })

	user, err := m.SigninSilent(context.Background(), oidcstore.SigninSilentOptions{})
	assert.Nil(t, user)
	assert.True(t, oidcstore.IsErrorKind(err, ErrLoginRequired))
	assert.True(t, oidcstore.HasTextCode(err, TextCodeLoginRequired))

	var rich *errors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, "login_required", rich.Message)
	assert.Same(t, err, renewErr)
}

func TestSigninSilentRejectedRefreshToken(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	require.NoError(t, m.StoreUser(context.Background(), &oidcstore.User{
		AccessToken:  "old",
		RefreshToken: "revoked",
	}))

	_, err := m.SigninSilent(context.Background(), oidcstore.SigninSilentOptions{})
	assert.True(t, oidcstore.IsErrorKind(err, ErrTokenExchange))
}

func TestSigninPopup(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	var wg sync.WaitGroup
	opener := oidcstore.OpenerFunc(func(ctx context.Context, target string) error {
		state := idp.authorize(target)
		u, _ := url.Parse(target)
		assert.Equal(t, "https://app.example.com/oidc-popup-callback", u.Query().Get("redirect_uri"))

		wg.Add(1)
		go func() {
			defer wg.Done()
			cb := "https://app.example.com/oidc-popup-callback?code=good-code&state=" + url.QueryEscape(state)
			assert.NoError(t, m.SigninPopupCallback(context.Background(), cb))
		}()
		return nil
	})

	ctx := oidcstore.WithOpener(context.Background(), opener)
	user, err := m.SigninPopup(ctx, oidcstore.SigninPopupOptions{})
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, "access-1", user.AccessToken)
}

func TestSigninPopupTimeout(t *testing.T) {
	m := newTestManager(t, newFakeIdP(t), WithPopupTimeout(20*time.Millisecond))

	ctx := oidcstore.WithOpener(context.Background(), oidcstore.OpenerFunc(func(context.Context, string) error {
		return nil
	}))

	_, err := m.SigninPopup(ctx, oidcstore.SigninPopupOptions{})
	assert.True(t, oidcstore.IsErrorKind(err, ErrPopupTimeout))
}

func TestSigninPopupRequiresOpener(t *testing.T) {
	m := newTestManager(t, newFakeIdP(t))

	_, err := m.SigninPopup(context.Background(), oidcstore.SigninPopupOptions{})
	assert.True(t, oidcstore.IsErrorKind(err, ErrNoOpener))
}

func TestSigninPopupCallbackWithoutWaiter(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	callback := signinRedirect(t, m, idp)
	err := m.SigninPopupCallback(context.Background(), callback)
	assert.True(t, oidcstore.IsErrorKind(err, ErrNoPopupWaiter))
}

func TestCreateSignoutRequest(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	req, err := m.CreateSignoutRequest(context.Background(), oidcstore.SignoutRequestArgs{
		IDTokenHint:      "id-token",
		ExtraQueryParams: map[string]string{"ui_locales": "en"},
	})
	require.NoError(t, err)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "id-token", q.Get("id_token_hint"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/signed-out", q.Get("post_logout_redirect_uri"))
	assert.Equal(t, "en", q.Get("ui_locales"))
	assert.Equal(t, req.State, q.Get("state"))
	assert.NotEmpty(t, req.State)
}

func TestCreateSignoutRequestWithoutEndpoint(t *testing.T) {
	idp := newFakeIdP(t)
	idp.noEndSession = true
	m := newTestManager(t, idp)

	_, err := m.CreateSignoutRequest(context.Background(), oidcstore.SignoutRequestArgs{})
	assert.True(t, oidcstore.IsErrorKind(err, ErrNoEndSession))
}

func TestSignoutRedirect(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	user, err := m.SigninRedirectCallback(context.Background(), signinRedirect(t, m, idp))
	require.NoError(t, err)

	unloaded, signedOut := 0, 0
	m.Events().AddListener(oidcstore.EventUserUnloaded, func(any) { unloaded++ })
	m.Events().AddListener(oidcstore.EventUserSignedOut, func(any) { signedOut++ })

	rec := &oidcstore.RedirectRecorder{}
	ctx := oidcstore.WithNavigator(context.Background(), rec)
	require.NoError(t, m.SignoutRedirect(ctx, oidcstore.SignoutOptions{}))

	u, err := url.Parse(rec.URL())
	require.NoError(t, err)
	assert.Equal(t, user.IDToken, u.Query().Get("id_token_hint"))

	cached, _ := m.GetUser(context.Background())
	assert.Nil(t, cached)
	assert.Equal(t, 1, unloaded)

	callback := "https://app.example.com/signed-out?state=" + url.QueryEscape(u.Query().Get("state"))
	require.NoError(t, m.SignoutRedirectCallback(context.Background(), callback))
	assert.Equal(t, 1, signedOut)

	err = m.SignoutRedirectCallback(context.Background(), callback)
	assert.True(t, oidcstore.IsErrorKind(err, ErrInvalidState))
}

func TestSignoutPopup(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	require.NoError(t, m.StoreUser(context.Background(), &oidcstore.User{IDToken: "id-token"}))

	var wg sync.WaitGroup
	opener := oidcstore.OpenerFunc(func(ctx context.Context, target string) error {
		u, _ := url.Parse(target)
		assert.Equal(t, "https://app.example.com/oidc-popup-callback", u.Query().Get("post_logout_redirect_uri"))
		state := u.Query().Get("state")

		wg.Add(1)
		go func() {
			defer wg.Done()
			cb := "https://app.example.com/oidc-popup-callback?state=" + url.QueryEscape(state)
			assert.NoError(t, m.SignoutPopupCallback(context.Background(), cb))
		}()
		return nil
	})

	ctx := oidcstore.WithOpener(context.Background(), opener)
	require.NoError(t, m.SignoutPopup(ctx, oidcstore.SignoutOptions{}))
	wg.Wait()

	cached, _ := m.GetUser(context.Background())
	assert.Nil(t, cached)
}

func TestClearStaleState(t *testing.T) {
	idp := newFakeIdP(t)
	now := time.Now()
	m := newTestManager(t, idp, WithClock(func() time.Time { return now }))

	signinRedirect(t, m, idp)
	require.Len(t, m.issued, 1)

	require.NoError(t, m.ClearStaleState(context.Background()))
	assert.Len(t, m.issued, 1)

	now = now.Add(DefaultStateTTL + time.Second)
	require.NoError(t, m.ClearStaleState(context.Background()))
	assert.Empty(t, m.issued)
}

func TestManagerWorksBehindStore(t *testing.T) {
	idp := newFakeIdP(t)
	m := newTestManager(t, idp)

	store, err := oidcstore.NewStore(m, testSettings(idp), oidcstore.WithLogger(oidcstore.NopLogger()))
	require.NoError(t, err)

	rec := &oidcstore.RedirectRecorder{}
	ctx := oidcstore.WithNavigator(context.Background(), rec)

	granted := store.CheckAccess(ctx, oidcstore.NewRoute("/reports"))
	assert.False(t, granted)
	require.NotEmpty(t, rec.URL())

	state := idp.authorize(rec.URL())
	path, err := store.SignInCallback(context.Background(),
		"https://app.example.com/oidc-callback?code=good-code&state="+url.QueryEscape(state))
	require.NoError(t, err)

	assert.Equal(t, "/reports", path)
	assert.True(t, store.IsAuthenticated())
	assert.Equal(t, "access-1", store.AccessToken())
	assert.True(t, store.CheckAccess(context.Background(), oidcstore.NewRoute("/reports")))
}
