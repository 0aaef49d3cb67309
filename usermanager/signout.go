package usermanager

import (
	"context"
	"net/url"

	oidcstore "github.com/goliatone/go-oidc-store"
)

// CreateSignoutRequest builds an end session request. A state is issued
// when the request carries a post logout redirect.
func (m *Manager) CreateSignoutRequest(_ context.Context, args oidcstore.SignoutRequestArgs) (*oidcstore.SignoutRequest, error) {
	if m.metadata.EndSessionEndpoint == "" {
		return nil, ErrNoEndSession
	}

	endpoint, err := url.Parse(m.metadata.EndSessionEndpoint)
	if err != nil {
		return nil, wrap(ErrNoEndSession, err)
	}

	params := endpoint.Query()
	for k, v := range args.ExtraQueryParams {
		params.Set(k, v)
	}
	params.Set("client_id", m.settings.ClientID)

	if args.IDTokenHint != "" {
		params.Set("id_token_hint", args.IDTokenHint)
	}

	redirect := args.PostLogoutRedirectURI
	if redirect == "" {
		redirect = m.settings.PostLogoutRedirectURI
	}

	req := &oidcstore.SignoutRequest{}
	if redirect != "" {
		params.Set("post_logout_redirect_uri", redirect)

		state, err := m.issueState(&FlowState{
			Flow:        FlowSignout,
			RedirectURI: redirect,
			Data:        args.State,
		})
		if err != nil {
			return nil, err
		}
		params.Set("state", state)
		req.State = state
	}

	endpoint.RawQuery = params.Encode()
	req.URL = endpoint.String()
	return req, nil
}

// SignoutRedirect removes the cached user and navigates to the end
// session endpoint.
func (m *Manager) SignoutRedirect(ctx context.Context, opts oidcstore.SignoutOptions) error {
	nav, ok := oidcstore.NavigatorFromContext(ctx)
	if !ok {
		return ErrNoNavigator
	}

	req, err := m.signoutRequest(ctx, opts)
	if err != nil {
		return err
	}

	if err := m.RemoveUser(ctx); err != nil {
		return err
	}

	return nav.Navigate(ctx, req.URL, false)
}

// SignoutRedirectCallback validates the post logout redirect.
func (m *Manager) SignoutRedirectCallback(ctx context.Context, rawURL string) error {
	return m.completeSignout(ctx, rawURL)
}

// SignoutPopup removes the cached user, opens the end session endpoint
// through the opener on ctx and waits for SignoutPopupCallback.
func (m *Manager) SignoutPopup(ctx context.Context, opts oidcstore.SignoutOptions) error {
	opener, ok := oidcstore.OpenerFromContext(ctx)
	if !ok {
		return ErrNoOpener
	}

	if opts.PostLogoutRedirectURI == "" {
		opts.PostLogoutRedirectURI = m.settings.PopupRedirectURI
	}

	req, err := m.signoutRequest(ctx, opts)
	if err != nil {
		return err
	}

	if err := m.RemoveUser(ctx); err != nil {
		return err
	}

	if req.State == "" {
		return opener.Open(ctx, req.URL)
	}

	st, err := m.states.Decode(req.State)
	if err != nil {
		return err
	}

	callbackURL, err := m.awaitPopup(ctx, opener, req.URL, st.ID)
	if err != nil {
		return err
	}
	return m.completeSignout(ctx, callbackURL)
}

// SignoutPopupCallback delivers the popup callback URL to the waiting
// SignoutPopup call.
func (m *Manager) SignoutPopupCallback(_ context.Context, rawURL string) error {
	return m.deliverPopup(rawURL)
}

func (m *Manager) signoutRequest(ctx context.Context, opts oidcstore.SignoutOptions) (*oidcstore.SignoutRequest, error) {
	hint := opts.IDTokenHint
	if hint == "" {
		user, err := m.GetUser(ctx)
		if err != nil {
			return nil, err
		}
		if user != nil {
			hint = user.IDToken
		}
	}

	return m.CreateSignoutRequest(ctx, oidcstore.SignoutRequestArgs{
		IDTokenHint:           hint,
		PostLogoutRedirectURI: opts.PostLogoutRedirectURI,
		State:                 opts.State,
		ExtraQueryParams:      opts.ExtraQueryParams,
	})
}

func (m *Manager) completeSignout(_ context.Context, rawURL string) error {
	params, err := callbackParams(rawURL)
	if err != nil {
		return err
	}

	if raw := params.Get("state"); raw != "" {
		if _, err := m.consumeState(raw, FlowSignout); err != nil {
			return err
		}
	}

	if err := providerError(params); err != nil {
		return err
	}

	m.logger.Debug("signout completed")
	m.events.Raise(oidcstore.EventUserSignedOut, nil)
	return nil
}
