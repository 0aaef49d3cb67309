package oidcstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserManager mocks the session manager.
type MockUserManager struct {
	mock.Mock
	events *fakeEvents
}

func newMockUserManager() *MockUserManager {
	return &MockUserManager{events: newFakeEvents()}
}

func userArg(args mock.Arguments, i int) *User {
	u, _ := args.Get(i).(*User)
	return u
}

func (m *MockUserManager) GetUser(ctx context.Context) (*User, error) {
	args := m.Called(ctx)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserManager) SigninSilent(ctx context.Context, opts SigninSilentOptions) (*User, error) {
	args := m.Called(ctx, opts)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserManager) SigninRedirect(ctx context.Context, opts SigninRedirectOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockUserManager) SigninRedirectCallback(ctx context.Context, url string) (*User, error) {
	args := m.Called(ctx, url)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserManager) SigninPopup(ctx context.Context, opts SigninPopupOptions) (*User, error) {
	args := m.Called(ctx, opts)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserManager) SigninPopupCallback(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockUserManager) SignoutRedirect(ctx context.Context, opts SignoutOptions) error {
	return m.Called(ctx, opts).Error(0)
}

func (m *MockUserManager) SignoutRedirectCallback(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockUserManager) SignoutPopup(ctx context.Context, opts SignoutOptions) error {
	return m.Called(ctx, opts).Error(0)
}

func (m *MockUserManager) SignoutPopupCallback(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockUserManager) StoreUser(ctx context.Context, user *User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserManager) RemoveUser(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockUserManager) ClearStaleState(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockUserManager) Events() UserManagerEvents {
	return m.events
}

// MockSignoutFactory mocks the end session request builder.
type MockSignoutFactory struct {
	mock.Mock
}

func (m *MockSignoutFactory) CreateSignoutRequest(ctx context.Context, args SignoutRequestArgs) (*SignoutRequest, error) {
	a := m.Called(ctx, args)
	req, _ := a.Get(0).(*SignoutRequest)
	return req, a.Error(1)
}

// fakeEvents is an in memory event hub that counts lifecycle registrations.
type fakeEvents struct {
	mu           sync.Mutex
	seq          int
	listeners    map[EventName]map[string]EventHandler
	expiredAdds  int
	expiringAdds int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{listeners: map[EventName]map[string]EventHandler{}}
}

func (f *fakeEvents) AddAccessTokenExpiring(fn func()) Subscription {
	f.mu.Lock()
	f.expiringAdds++
	f.mu.Unlock()
	return f.AddListener(EventAccessTokenExpiring, func(any) { fn() })
}

func (f *fakeEvents) AddAccessTokenExpired(fn func()) Subscription {
	f.mu.Lock()
	f.expiredAdds++
	f.mu.Unlock()
	return f.AddListener(EventAccessTokenExpired, func(any) { fn() })
}

func (f *fakeEvents) AddListener(name EventName, fn EventHandler) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("sub-%d", f.seq)
	if f.listeners[name] == nil {
		f.listeners[name] = map[string]EventHandler{}
	}
	f.listeners[name][id] = fn
	return Subscription{Event: name, ID: id}
}

func (f *fakeEvents) RemoveListener(sub Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners[sub.Event], sub.ID)
}

func (f *fakeEvents) raise(name EventName, payload any) {
	f.mu.Lock()
	handlers := make([]EventHandler, 0, len(f.listeners[name]))
	for _, h := range f.listeners[name] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (f *fakeEvents) counts() (expired, expiring int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expiredAdds, f.expiringAdds
}

func (f *fakeEvents) listenerCount(name EventName) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[name])
}

// captureObserver records observer calls.
type captureObserver struct {
	mu       sync.Mutex
	loaded   []*User
	errors   []*ErrorPayload
	autoErrs []*ErrorPayload
	renewErr []*ErrorPayload
	unloaded int
	expired  int
}

func (c *captureObserver) UserLoaded(user *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = append(c.loaded, user)
}

func (c *captureObserver) UserUnloaded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unloaded++
}

func (c *captureObserver) AccessTokenExpiring() {}

func (c *captureObserver) AccessTokenExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired++
}

func (c *captureObserver) SilentRenewError(payload *ErrorPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewErr = append(c.renewErr, payload)
}

func (c *captureObserver) UserSignedOut() {}

func (c *captureObserver) OidcError(payload *ErrorPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, payload)
}

func (c *captureObserver) AutomaticSilentRenewError(payload *ErrorPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoErrs = append(c.autoErrs, payload)
}

func (c *captureObserver) loadedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loaded)
}

// captureTarget records dispatched events.
type captureTarget struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureTarget) Dispatch(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureTarget) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Name)
	}
	return out
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func freshUser(t *testing.T) *User {
	t.Helper()
	exp := testNow.Add(time.Hour)
	return &User{
		AccessToken: signedToken(t, exp),
		IDToken:     signedToken(t, exp),
		Scope:       "openid,profile",
		ExpiresAt:   exp.Unix(),
		Profile:     map[string]any{"sub": "user-1"},
	}
}

func expiredUser(t *testing.T) *User {
	t.Helper()
	exp := testNow.Add(-time.Minute)
	return &User{
		AccessToken: signedToken(t, exp),
		IDToken:     signedToken(t, exp),
		ExpiresAt:   exp.Unix(),
	}
}

func baseClientSettings() ClientSettings {
	return ClientSettings{
		Authority:   "https://idp.example.com",
		ClientID:    "app",
		RedirectURI: "https://app.example.com/oidc-callback",
		Scope:       "openid profile",
	}
}

func silentClientSettings() ClientSettings {
	c := baseClientSettings()
	c.SilentRedirectURI = "https://app.example.com/silent-renew"
	c.AutomaticSilentSignin = true
	return c
}

func newTestStore(t *testing.T, client ClientSettings, opts ...StoreOption) (*Store, *MockUserManager) {
	t.Helper()
	manager := newMockUserManager()
	base := []StoreOption{WithLogger(NopLogger()), WithClock(testClock)}
	store, err := NewStore(manager, client, append(base, opts...)...)
	require.NoError(t, err)
	return store, manager
}
