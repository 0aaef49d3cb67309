package usermanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-errors"
	"golang.org/x/oauth2"

	oidcstore "github.com/goliatone/go-oidc-store"
)

type authorizeRequest struct {
	flow         Flow
	redirectURI  string
	prompt       string
	loginHint    string
	extra        map[string]string
	data         map[string]any
	skipUserInfo bool
}

func (m *Manager) authorizeURL(req authorizeRequest) (string, *FlowState, error) {
	verifier := oauth2.GenerateVerifier()
	st := &FlowState{
		Flow:         req.flow,
		Nonce:        randomToken(16),
		CodeVerifier: verifier,
		RedirectURI:  req.redirectURI,
		SkipUserInfo: req.skipUserInfo,
		Data:         req.data,
	}

	state, err := m.issueState(st)
	if err != nil {
		return "", nil, err
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", st.Nonce),
		oauth2.SetAuthURLParam("redirect_uri", req.redirectURI),
	}
	for k, v := range req.extra {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if req.prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.prompt))
	}
	if req.loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.loginHint))
	}

	return m.oauth.AuthCodeURL(state, opts...), st, nil
}

// SigninRedirect hands the authorize URL to the navigator found on ctx.
func (m *Manager) SigninRedirect(ctx context.Context, opts oidcstore.SigninRedirectOptions) error {
	nav, ok := oidcstore.NavigatorFromContext(ctx)
	if !ok {
		return ErrNoNavigator
	}

	target, _, err := m.authorizeURL(authorizeRequest{
		flow:         FlowRedirect,
		redirectURI:  m.settings.RedirectURI,
		prompt:       opts.Prompt,
		loginHint:    opts.LoginHint,
		extra:        opts.ExtraQueryParams,
		data:         opts.State,
		skipUserInfo: opts.SkipUserInfo,
	})
	if err != nil {
		return err
	}

	m.logger.Debug("signin redirect", "replace", opts.UseReplaceToNavigate)
	return nav.Navigate(ctx, target, opts.UseReplaceToNavigate)
}

// SigninRedirectCallback completes a redirect sign in from the callback URL.
func (m *Manager) SigninRedirectCallback(ctx context.Context, rawURL string) (*oidcstore.User, error) {
	return m.completeSignin(ctx, rawURL, FlowRedirect)
}

func (m *Manager) completeSignin(ctx context.Context, rawURL string, flow Flow) (*oidcstore.User, error) {
	params, err := callbackParams(rawURL)
	if err != nil {
		return nil, err
	}

	st, err := m.consumeState(params.Get("state"), flow)
	if err != nil {
		return nil, err
	}

	if err := providerError(params); err != nil {
		return nil, err
	}

	code := params.Get("code")
	if code == "" {
		return nil, wrap(ErrProviderResponse, fmt.Errorf("callback has no code"))
	}

	tok, err := m.oauth.Exchange(m.clientContext(ctx), code,
		oauth2.VerifierOption(st.CodeVerifier),
		oauth2.SetAuthURLParam("redirect_uri", st.RedirectURI),
	)
	if err != nil {
		return nil, wrap(ErrTokenExchange, err, retrieveMeta(err))
	}

	user, err := m.userFromToken(ctx, tok, st.Nonce, nil, !st.SkipUserInfo)
	if err != nil {
		return nil, err
	}

	if err := m.storeAndLoad(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SigninSilent renews the session with the cached refresh token. Without
// one it fails with ErrLoginRequired. Failures raise silentRenewError.
// ExtraQueryParams are not sent on refresh requests.
func (m *Manager) SigninSilent(ctx context.Context, _ oidcstore.SigninSilentOptions) (*oidcstore.User, error) {
	user, err := m.signinSilent(ctx)
	if err != nil {
		m.logger.Debug("silent signin failed", "error", err)
		m.events.Raise(oidcstore.EventSilentRenewError, err)
		return nil, err
	}
	return user, nil
}

func (m *Manager) signinSilent(ctx context.Context) (*oidcstore.User, error) {
	current, err := m.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, ErrLoginRequired.Clone()
	}

	tok, err := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{
		RefreshToken: current.RefreshToken,
	}).Token()
	if err != nil {
		return nil, wrap(ErrTokenExchange, err, retrieveMeta(err))
	}

	user, err := m.userFromToken(ctx, tok, "", current, false)
	if err != nil {
		return nil, err
	}

	if err := m.storeAndLoad(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SigninPopup opens the authorize URL through the opener on ctx and waits
// for SigninPopupCallback to hand over the callback URL.
func (m *Manager) SigninPopup(ctx context.Context, opts oidcstore.SigninPopupOptions) (*oidcstore.User, error) {
	opener, ok := oidcstore.OpenerFromContext(ctx)
	if !ok {
		return nil, ErrNoOpener
	}

	redirectURI := m.settings.PopupRedirectURI
	if redirectURI == "" {
		redirectURI = m.settings.RedirectURI
	}

	target, st, err := m.authorizeURL(authorizeRequest{
		flow:        FlowPopup,
		redirectURI: redirectURI,
		prompt:      opts.Prompt,
		loginHint:   opts.LoginHint,
		extra:       opts.ExtraQueryParams,
	})
	if err != nil {
		return nil, err
	}

	callbackURL, err := m.awaitPopup(ctx, opener, target, st.ID)
	if err != nil {
		return nil, err
	}
	return m.completeSignin(ctx, callbackURL, FlowPopup)
}

// SigninPopupCallback delivers the popup callback URL to the waiting
// SigninPopup call.
func (m *Manager) SigninPopupCallback(_ context.Context, rawURL string) error {
	return m.deliverPopup(rawURL)
}

func (m *Manager) awaitPopup(ctx context.Context, opener oidcstore.Opener, target, id string) (string, error) {
	ch := make(chan string, 1)

	m.mu.Lock()
	m.waiters[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, id)
		m.mu.Unlock()
	}()

	if err := opener.Open(ctx, target); err != nil {
		return "", fmt.Errorf("open popup: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.popupTimeout)
	defer cancel()

	select {
	case u := <-ch:
		return u, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", wrap(ErrPopupTimeout, ctx.Err())
		}
		return "", ctx.Err()
	}
}

func (m *Manager) deliverPopup(rawURL string) error {
	params, err := callbackParams(rawURL)
	if err != nil {
		return err
	}

	st, err := m.states.Decode(params.Get("state"))
	if err != nil {
		return err
	}

	m.mu.Lock()
	ch, ok := m.waiters[st.ID]
	m.mu.Unlock()

	if !ok {
		return ErrNoPopupWaiter
	}

	select {
	case ch <- rawURL:
	default:
	}
	return nil
}

func (m *Manager) userFromToken(ctx context.Context, tok *oauth2.Token, nonce string, prev *oidcstore.User, withUserInfo bool) (*oidcstore.User, error) {
	user := &oidcstore.User{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Scope:        scopeList(extraString(tok, "scope"), m.settings.Scope),
		SessionState: extraString(tok, "session_state"),
	}
	if !tok.Expiry.IsZero() {
		user.ExpiresAt = tok.Expiry.Unix()
	}

	if idToken := extraString(tok, "id_token"); idToken != "" {
		claims, err := m.verifyIDToken(idToken, nonce)
		if err != nil {
			return nil, err
		}
		user.IDToken = idToken
		user.Profile = claims
	} else if prev != nil {
		user.IDToken = prev.IDToken
		user.Profile = prev.Clone().Profile
	}

	if prev != nil && user.RefreshToken == "" {
		user.RefreshToken = prev.RefreshToken
	}

	if withUserInfo && m.loadUserInfo && m.metadata.UserinfoEndpoint != "" {
		if err := m.mergeUserInfo(ctx, user); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (m *Manager) mergeUserInfo(ctx context.Context, user *oidcstore.User) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.metadata.UserinfoEndpoint, nil)
	if err != nil {
		return fmt.Errorf("userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return wrap(ErrProviderResponse, err, map[string]any{"endpoint": "userinfo"})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("userinfo read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return wrap(ErrProviderResponse, fmt.Errorf("userinfo status %d", resp.StatusCode),
			map[string]any{"endpoint": "userinfo", "status": resp.StatusCode})
	}

	claims := map[string]any{}
	if err := json.Unmarshal(body, &claims); err != nil {
		return fmt.Errorf("userinfo decode: %w", err)
	}

	if sub := user.Subject(); sub != "" {
		if got, _ := claims["sub"].(string); got != sub {
			return wrap(ErrIDTokenInvalid, fmt.Errorf("userinfo sub %q does not match %q", got, sub))
		}
	}

	if user.Profile == nil {
		user.Profile = map[string]any{}
	}
	for k, v := range claims {
		user.Profile[k] = v
	}
	return nil
}

// callbackParams reads protocol parameters from the query, or from the
// fragment when the query carries no state.
func callbackParams(rawURL string) (url.Values, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, wrap(ErrInvalidState, err)
	}

	params := u.Query()
	if params.Get("state") == "" && u.Fragment != "" {
		fragment, err := url.ParseQuery(u.Fragment)
		if err == nil {
			params = fragment
		}
	}
	return params, nil
}

func providerError(params url.Values) error {
	code := params.Get("error")
	if code == "" {
		return nil
	}

	desc := params.Get("error_description")
	msg := code
	if desc != "" {
		msg = code + ": " + desc
	}

	return wrap(ErrProviderResponse, fmt.Errorf("%s", msg), map[string]any{
		"error_code":        code,
		"error_description": desc,
	})
}

func retrieveMeta(err error) map[string]any {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return nil
	}
	meta := map[string]any{"error_code": rerr.ErrorCode}
	if rerr.Response != nil {
		meta["status"] = rerr.Response.StatusCode
	}
	return meta
}

func extraString(tok *oauth2.Token, key string) string {
	v, _ := tok.Extra(key).(string)
	return v
}

// scopeList normalizes a space separated scope string to the comma
// separated form cached on the user.
func scopeList(granted, requested string) string {
	scope := granted
	if strings.TrimSpace(scope) == "" {
		scope = requested
	}
	return strings.Join(strings.Fields(scope), ",")
}
