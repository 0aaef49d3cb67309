package oidcstore

import (
	"context"
	"sync"
)

// EventName names a session event.
type EventName string

const (
	EventUserLoaded                EventName = "userLoaded"
	EventUserUnloaded              EventName = "userUnloaded"
	EventAccessTokenExpiring       EventName = "accessTokenExpiring"
	EventAccessTokenExpired        EventName = "accessTokenExpired"
	EventSilentRenewError          EventName = "silentRenewError"
	EventUserSignedOut             EventName = "userSignedOut"
	EventOidcError                 EventName = "oidcError"
	EventAutomaticSilentRenewError EventName = "automaticSilentRenewError"
)

// EventPrefix is prepended to event names dispatched on an EventTarget.
const EventPrefix = "OidcStore:"

// Observer receives store level notifications, one method per event kind.
type Observer interface {
	UserLoaded(user *User)
	UserUnloaded()
	AccessTokenExpiring()
	AccessTokenExpired()
	SilentRenewError(payload *ErrorPayload)
	UserSignedOut()
	OidcError(payload *ErrorPayload)
	AutomaticSilentRenewError(payload *ErrorPayload)
}

// ObserverFuncs adapts optional callbacks to Observer. Nil fields are
// skipped.
type ObserverFuncs struct {
	OnUserLoaded                func(user *User)
	OnUserUnloaded              func()
	OnAccessTokenExpiring       func()
	OnAccessTokenExpired        func()
	OnSilentRenewError          func(payload *ErrorPayload)
	OnUserSignedOut             func()
	OnOidcError                 func(payload *ErrorPayload)
	OnAutomaticSilentRenewError func(payload *ErrorPayload)
}

var _ Observer = ObserverFuncs{}

func (o ObserverFuncs) UserLoaded(user *User) {
	if o.OnUserLoaded != nil {
		o.OnUserLoaded(user)
	}
}

func (o ObserverFuncs) UserUnloaded() {
	if o.OnUserUnloaded != nil {
		o.OnUserUnloaded()
	}
}

func (o ObserverFuncs) AccessTokenExpiring() {
	if o.OnAccessTokenExpiring != nil {
		o.OnAccessTokenExpiring()
	}
}

func (o ObserverFuncs) AccessTokenExpired() {
	if o.OnAccessTokenExpired != nil {
		o.OnAccessTokenExpired()
	}
}

func (o ObserverFuncs) SilentRenewError(payload *ErrorPayload) {
	if o.OnSilentRenewError != nil {
		o.OnSilentRenewError(payload)
	}
}

func (o ObserverFuncs) UserSignedOut() {
	if o.OnUserSignedOut != nil {
		o.OnUserSignedOut()
	}
}

func (o ObserverFuncs) OidcError(payload *ErrorPayload) {
	if o.OnOidcError != nil {
		o.OnOidcError(payload)
	}
}

func (o ObserverFuncs) AutomaticSilentRenewError(payload *ErrorPayload) {
	if o.OnAutomaticSilentRenewError != nil {
		o.OnAutomaticSilentRenewError(payload)
	}
}

// Event is a tagged notification as published on an EventTarget.
type Event struct {
	Name    string
	Payload any
}

// EventTarget is the global dispatch surface events are mirrored to when
// StoreSettings.DispatchEventsOnTarget is set.
type EventTarget interface {
	Dispatch(ctx context.Context, event Event) error
}

// EventTargetFunc adapts a function to EventTarget.
type EventTargetFunc func(ctx context.Context, event Event) error

// Dispatch implements EventTarget.
func (f EventTargetFunc) Dispatch(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopEventTarget struct{}

func (noopEventTarget) Dispatch(context.Context, Event) error {
	return nil
}

func normalizeEventTarget(t EventTarget) EventTarget {
	if t == nil {
		return noopEventTarget{}
	}
	return t
}

// ChannelEventTarget fans events out to subscribed channels. Slow
// subscribers drop events instead of blocking the store.
type ChannelEventTarget struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewChannelEventTarget creates a target whose subscriber channels hold up
// to buffer pending events.
func NewChannelEventTarget(buffer int) *ChannelEventTarget {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelEventTarget{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new channel. The returned cancel func closes it.
func (t *ChannelEventTarget) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, t.buffer)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Dispatch implements EventTarget.
func (t *ChannelEventTarget) Dispatch(ctx context.Context, event Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (s *Store) notify(ctx context.Context, name EventName, payload any) {
	if !s.settings.DispatchEventsOnTarget {
		return
	}
	event := Event{Name: EventPrefix + string(name), Payload: payload}
	if err := s.target.Dispatch(ctx, event); err != nil {
		s.logger.Warn("event dispatch failed", "event", event.Name, "error", err)
	}
}

// dispatchError mirrors DispatchCustomErrorEvent: observer first, then the
// event target.
func (s *Store) dispatchError(ctx context.Context, name EventName, payload *ErrorPayload) {
	switch name {
	case EventOidcError:
		s.observer.OidcError(payload)
	case EventAutomaticSilentRenewError:
		s.observer.AutomaticSilentRenewError(payload)
	case EventSilentRenewError:
		s.observer.SilentRenewError(payload)
	}
	s.notify(ctx, name, payload)
}
