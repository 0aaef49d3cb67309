package usermanager

import (
	"sync"
	"time"

	"github.com/google/uuid"

	oidcstore "github.com/goliatone/go-oidc-store"
)

// DefaultExpiringNotificationTime is how long before expiry
// accessTokenExpiring is raised.
const DefaultExpiringNotificationTime = 60 * time.Second

type listener struct {
	id string
	fn oidcstore.EventHandler
}

// Events is the listener hub of a Manager. It also owns the timers that
// raise the access token lifecycle events for the loaded user.
type Events struct {
	mu        sync.Mutex
	listeners map[oidcstore.EventName][]listener

	notice time.Duration
	now    func() time.Time

	expiring *time.Timer
	expired  *time.Timer
}

// NewEvents creates a hub. A non positive notice falls back to
// DefaultExpiringNotificationTime.
func NewEvents(notice time.Duration, now func() time.Time) *Events {
	if notice <= 0 {
		notice = DefaultExpiringNotificationTime
	}
	if now == nil {
		now = time.Now
	}
	return &Events{
		listeners: make(map[oidcstore.EventName][]listener),
		notice:    notice,
		now:       now,
	}
}

func (e *Events) AddAccessTokenExpiring(fn func()) oidcstore.Subscription {
	return e.AddListener(oidcstore.EventAccessTokenExpiring, func(any) { fn() })
}

func (e *Events) AddAccessTokenExpired(fn func()) oidcstore.Subscription {
	return e.AddListener(oidcstore.EventAccessTokenExpired, func(any) { fn() })
}

// AddListener registers fn for name. Listeners run in registration order.
func (e *Events) AddListener(name oidcstore.EventName, fn oidcstore.EventHandler) oidcstore.Subscription {
	sub := oidcstore.Subscription{Event: name, ID: uuid.NewString()}
	if fn == nil {
		return sub
	}

	e.mu.Lock()
	e.listeners[name] = append(e.listeners[name], listener{id: sub.ID, fn: fn})
	e.mu.Unlock()

	return sub
}

func (e *Events) RemoveListener(sub oidcstore.Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[sub.Event]
	for i, l := range current {
		if l.id == sub.ID {
			next := make([]listener, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			e.listeners[sub.Event] = next
			return
		}
	}
}

// Count returns the number of listeners registered for name.
func (e *Events) Count(name oidcstore.EventName) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// Raise calls every listener of name with payload. Listeners are invoked
// outside the lock and may add or remove listeners.
func (e *Events) Raise(name oidcstore.EventName, payload any) {
	e.mu.Lock()
	current := e.listeners[name]
	e.mu.Unlock()

	for _, l := range current {
		l.fn(payload)
	}
}

// Load raises userLoaded and arms the expiry timers for user.
func (e *Events) Load(user *oidcstore.User) {
	e.arm(user)
	e.Raise(oidcstore.EventUserLoaded, user)
}

// Unload disarms the expiry timers and raises userUnloaded.
func (e *Events) Unload() {
	e.disarm()
	e.Raise(oidcstore.EventUserUnloaded, nil)
}

// Close stops pending timers.
func (e *Events) Close() {
	e.disarm()
}

func (e *Events) arm(user *oidcstore.User) {
	e.disarm()

	expiresIn, ok := user.ExpiresIn(e.now())
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if expiresIn > 0 {
		until := expiresIn - e.notice
		if until < 0 {
			until = 0
		}
		e.expiring = time.AfterFunc(until, func() {
			e.Raise(oidcstore.EventAccessTokenExpiring, nil)
		})
	} else {
		expiresIn = 0
	}

	e.expired = time.AfterFunc(expiresIn, func() {
		e.Raise(oidcstore.EventAccessTokenExpired, nil)
	})
}

func (e *Events) disarm() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.expiring != nil {
		e.expiring.Stop()
		e.expiring = nil
	}
	if e.expired != nil {
		e.expired.Stop()
		e.expired = nil
	}
}
