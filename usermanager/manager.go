package usermanager

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	oidcstore "github.com/goliatone/go-oidc-store"
)

// DefaultPopupTimeout bounds how long popup flows wait for their callback.
const DefaultPopupTimeout = 5 * time.Minute

// Manager is an oidcstore.UserManager backed by golang.org/x/oauth2.
type Manager struct {
	settings   oidcstore.ClientSettings
	metadata   *Metadata
	oauth      *oauth2.Config
	httpClient *http.Client
	users      UserStore
	userKey    string
	events     *Events
	states     *StateCodec
	keyfunc    jwt.Keyfunc
	jwks       *keyfunc.JWKS
	logger     oidcstore.Logger
	now        func() time.Time

	popupTimeout time.Duration
	notice       time.Duration
	loadUserInfo bool
	leeway       time.Duration

	mu      sync.Mutex
	issued  map[string]int64
	waiters map[string]chan string
}

var (
	_ oidcstore.UserManager           = (*Manager)(nil)
	_ oidcstore.SignoutRequestFactory = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*Manager)

// WithMetadata skips discovery and uses md as the provider configuration.
func WithMetadata(md *Metadata) Option {
	return func(m *Manager) {
		if md != nil {
			m.metadata = md
		}
	}
}

func WithUserStore(store UserStore) Option {
	return func(m *Manager) {
		if store != nil {
			m.users = store
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

func WithLogger(logger oidcstore.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithKeyfunc sets the key resolver used to verify ID token signatures.
// Without one the manager fetches the provider JWKS, and when the provider
// publishes none ID tokens are decoded without verification.
func WithKeyfunc(fn jwt.Keyfunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.keyfunc = fn
		}
	}
}

// WithStateCodec sets the codec sealing the state parameter. Use a codec
// with shared keys when callbacks can land on another process.
func WithStateCodec(codec *StateCodec) Option {
	return func(m *Manager) {
		if codec != nil {
			m.states = codec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithPopupTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.popupTimeout = d
		}
	}
}

func WithExpiringNotificationTime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.notice = d
		}
	}
}

// WithUserInfo merges userinfo endpoint claims into the profile after
// sign in.
func WithUserInfo(enabled bool) Option {
	return func(m *Manager) {
		m.loadUserInfo = enabled
	}
}

// WithLeeway sets the clock skew tolerated when validating ID tokens.
func WithLeeway(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.leeway = d
		}
	}
}

// New creates a Manager. Provider metadata is discovered from the
// authority unless WithMetadata is given.
func New(ctx context.Context, settings oidcstore.ClientSettings, opts ...Option) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		settings:     settings,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		users:        NewMemoryUserStore(),
		logger:       oidcstore.DefaultLogger(),
		now:          time.Now,
		popupTimeout: DefaultPopupTimeout,
		notice:       DefaultExpiringNotificationTime,
		leeway:       30 * time.Second,
		issued:       make(map[string]int64),
		waiters:      make(map[string]chan string),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.states == nil {
		codec, err := NewRandomStateCodec(DefaultStateTTL)
		if err != nil {
			return nil, err
		}
		m.states = codec
	}
	m.states.now = m.now

	if m.metadata == nil {
		md, err := Discover(ctx, m.httpClient, settings.Authority)
		if err != nil {
			return nil, err
		}
		m.metadata = md
	}

	if m.keyfunc == nil && m.metadata.JWKSURI != "" {
		jwks, err := NewJWKSKeyfunc(ctx, m.metadata.JWKSURI, m.httpClient, m.logger)
		if err != nil {
			return nil, err
		}
		m.jwks = jwks
		m.keyfunc = jwks.Keyfunc
	}

	m.oauth = &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		RedirectURL:  settings.RedirectURI,
		Scopes:       strings.Fields(settings.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  m.metadata.AuthorizationEndpoint,
			TokenURL: m.metadata.TokenEndpoint,
		},
	}
	m.userKey = UserStoreKey(settings.Authority, settings.ClientID)
	m.events = NewEvents(m.notice, m.now)

	m.logger.Debug("user manager ready", "issuer", m.metadata.Issuer, "client_id", settings.ClientID)

	return m, nil
}

// Metadata returns the provider configuration in use.
func (m *Manager) Metadata() Metadata {
	return *m.metadata
}

func (m *Manager) Events() oidcstore.UserManagerEvents {
	return m.events
}

// Close stops token timers and background key refresh.
func (m *Manager) Close() {
	m.events.Close()
	if m.jwks != nil {
		m.jwks.EndBackground()
	}
}

// GetUser returns the cached user. An expired user is still returned.
func (m *Manager) GetUser(ctx context.Context) (*oidcstore.User, error) {
	user, err := m.users.Get(ctx, m.userKey)
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	return user, nil
}

// StoreUser persists user without raising userLoaded. A nil user removes
// the cached one.
func (m *Manager) StoreUser(ctx context.Context, user *oidcstore.User) error {
	if user == nil {
		if err := m.users.Delete(ctx, m.userKey); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	}
	if err := m.users.Set(ctx, m.userKey, user); err != nil {
		return fmt.Errorf("write user: %w", err)
	}
	return nil
}

// RemoveUser deletes the cached user and raises userUnloaded.
func (m *Manager) RemoveUser(ctx context.Context) error {
	if err := m.StoreUser(ctx, nil); err != nil {
		return err
	}
	m.events.Unload()
	return nil
}

// ClearStaleState forgets issued states past their expiry.
func (m *Manager) ClearStaleState(_ context.Context) error {
	now := m.now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, exp := range m.issued {
		if now > exp {
			delete(m.issued, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("cleared stale state", "count", removed)
	}
	return nil
}

func (m *Manager) storeAndLoad(ctx context.Context, user *oidcstore.User) error {
	if err := m.StoreUser(ctx, user); err != nil {
		return err
	}
	m.events.Load(user)
	return nil
}

func (m *Manager) issueState(st *FlowState) (string, error) {
	encoded, err := m.states.Encode(st)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.issued[st.ID] = st.ExpiresAt
	m.mu.Unlock()

	return encoded, nil
}

// consumeState decodes raw and removes it from the issued set so it can
// only be used once.
func (m *Manager) consumeState(raw string, flow Flow) (*FlowState, error) {
	st, err := m.states.Decode(raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, ok := m.issued[st.ID]
	delete(m.issued, st.ID)
	m.mu.Unlock()

	if !ok || st.Flow != flow {
		return nil, ErrInvalidState
	}
	return st, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
