package oidcstore

// SigninRedirectOptions configures an interactive redirect sign in.
type SigninRedirectOptions struct {
	// UseReplaceToNavigate asks the navigator to replace the current entry
	// instead of pushing a new one.
	UseReplaceToNavigate bool
	SkipUserInfo         bool
	Prompt               string
	LoginHint            string
	ExtraQueryParams     map[string]string
	// State is round tripped through the identity provider.
	State map[string]any
}

// SigninSilentOptions configures a non interactive renewal.
type SigninSilentOptions struct {
	// IgnoreErrors resolves failed renewals with a nil user instead of an
	// error. The store still marks the session as checked.
	IgnoreErrors     bool
	ExtraQueryParams map[string]string
}

// SigninPopupOptions configures a popup sign in.
type SigninPopupOptions struct {
	IgnoreErrors     bool
	Prompt           string
	LoginHint        string
	ExtraQueryParams map[string]string
}

// SignoutOptions configures the sign out variants.
type SignoutOptions struct {
	// IDTokenHint overrides the hint taken from the cached user.
	IDTokenHint           string
	PostLogoutRedirectURI string
	State                 map[string]any
	ExtraQueryParams      map[string]string
}

// AuthenticateRequest is the input of Store.Authenticate.
type AuthenticateRequest struct {
	// RedirectPath is persisted and restored by SignInCallback. An empty
	// path clears any previously stored one.
	RedirectPath string
	// Options falls back to StoreSettings.DefaultSigninRedirectOptions.
	Options *SigninRedirectOptions
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (o SigninRedirectOptions) withDefaults(settings ClientSettings) SigninRedirectOptions {
	if o.LoginHint == "" {
		o.LoginHint = settings.LoginHint
	}
	if len(settings.ExtraQueryParams) > 0 {
		merged := cloneStringMap(settings.ExtraQueryParams)
		for k, v := range o.ExtraQueryParams {
			merged[k] = v
		}
		o.ExtraQueryParams = merged
	}
	return o
}
