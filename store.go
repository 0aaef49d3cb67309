package oidcstore

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/goliatone/go-oidc-store"

// DefaultFrameTimeout bounds how long SignOutSilent waits for the end
// session URL to load.
const DefaultFrameTimeout = 10 * time.Second

// Store is the auth session state container. It caches the user handed out
// by the UserManager, tracks whether authentication has been checked and
// runs the access check used by the navigation guard.
//
// A Store is owned by the composition root; nothing in this package keeps
// a package level instance.
type Store struct {
	mu    sync.RWMutex
	state AuthState

	manager  UserManager
	client   ClientSettings
	settings StoreSettings
	routes   *RouteClassifier

	logger    Logger
	observer  Observer
	target    EventTarget
	redirects RedirectStore
	metrics   Metrics
	tracer    trace.Tracer
	now       func() time.Time

	frames       FrameLoader
	frameTimeout time.Duration
	signout      SignoutRequestFactory

	flights singleflight.Group
	tasks   *taskGroup

	// pathMu orders restoration path writes; pendingPaths counts redirects
	// in flight that carry a path.
	pathMu       sync.Mutex
	pendingPaths int
}

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithStoreSettings replaces the store settings.
func WithStoreSettings(settings StoreSettings) StoreOption {
	return func(s *Store) {
		s.settings = settings
	}
}

// WithLogger overrides the default stdout logger.
func WithLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers the typed listener for store and manager events.
func WithObserver(observer Observer) StoreOption {
	return func(s *Store) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithEventTarget sets where events are mirrored when
// StoreSettings.DispatchEventsOnTarget is enabled.
func WithEventTarget(target EventTarget) StoreOption {
	return func(s *Store) {
		s.target = normalizeEventTarget(target)
	}
}

// WithRedirectStore sets the restoration channel used across interactive
// redirects.
func WithRedirectStore(rs RedirectStore) StoreOption {
	return func(s *Store) {
		if rs != nil {
			s.redirects = rs
		}
	}
}

// WithMetrics records access check and renewal outcomes.
func WithMetrics(m Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = normalizeMetrics(m)
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(tracer trace.Tracer) StoreOption {
	return func(s *Store) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFrameLoader sets the loader used by SignOutSilent.
func WithFrameLoader(loader FrameLoader, timeout time.Duration) StoreOption {
	return func(s *Store) {
		if loader != nil {
			s.frames = loader
		}
		if timeout > 0 {
			s.frameTimeout = timeout
		}
	}
}

// WithSignoutRequestFactory enables SignOutSilent.
func WithSignoutRequestFactory(factory SignoutRequestFactory) StoreOption {
	return func(s *Store) {
		s.signout = factory
	}
}

// NewStore creates a store bound to manager.
func NewStore(manager UserManager, client ClientSettings, opts ...StoreOption) (*Store, error) {
	s := &Store{
		manager:      manager,
		client:       client,
		logger:       defLogger{},
		observer:     ObserverFuncs{},
		target:       noopEventTarget{},
		redirects:    NewMemoryRedirectStore(),
		metrics:      noopMetrics{},
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		frames:       NewHTTPFrameLoader(nil),
		frameTimeout: DefaultFrameTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := s.settings.Validate(); err != nil {
		return nil, err
	}

	s.settings = s.settings.withDefaults()
	s.routes = NewRouteClassifier(s.client, s.settings)
	s.tasks = newTaskGroup(s.logger)

	if s.signout == nil {
		if factory, ok := manager.(SignoutRequestFactory); ok {
			s.signout = factory
		}
	}

	s.bindManagerListeners()

	return s, nil
}

// Settings returns the effective store settings.
func (s *Store) Settings() StoreSettings {
	return s.settings
}

// ClientSettings returns the client settings the store was built with.
func (s *Store) ClientSettings() ClientSettings {
	return s.client
}

// Routes returns the route classifier.
func (s *Store) Routes() *RouteClassifier {
	return s.routes
}

// Wait blocks until background authentication tasks started by access
// checks have finished.
func (s *Store) Wait() {
	s.tasks.Wait()
}

// bindManagerListeners forwards UserManager events to the observer and the
// event target.
func (s *Store) bindManagerListeners() {
	events := s.manager.Events()
	if events == nil {
		return
	}

	ctx := context.Background()

	events.AddListener(EventUserLoaded, func(payload any) {
		user, _ := payload.(*User)
		s.observer.UserLoaded(user)
		s.notify(ctx, EventUserLoaded, user)
	})
	events.AddListener(EventUserUnloaded, func(any) {
		s.observer.UserUnloaded()
		s.notify(ctx, EventUserUnloaded, nil)
	})
	events.AddListener(EventAccessTokenExpiring, func(any) {
		s.observer.AccessTokenExpiring()
		s.notify(ctx, EventAccessTokenExpiring, nil)
	})
	events.AddListener(EventAccessTokenExpired, func(any) {
		s.observer.AccessTokenExpired()
		s.notify(ctx, EventAccessTokenExpired, nil)
	})
	events.AddListener(EventSilentRenewError, func(payload any) {
		s.dispatchError(ctx, EventSilentRenewError, silentRenewPayload(payload))
	})
	events.AddListener(EventUserSignedOut, func(any) {
		s.observer.UserSignedOut()
		s.notify(ctx, EventUserSignedOut, nil)
	})
}

func silentRenewPayload(payload any) *ErrorPayload {
	switch v := payload.(type) {
	case *ErrorPayload:
		return v
	case error:
		return NewErrorPayload(SourceAuthenticateSilent, v)
	}
	return &ErrorPayload{Source: SourceAuthenticateSilent}
}
