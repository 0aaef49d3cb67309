package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	oidcstore "github.com/goliatone/go-oidc-store"
)

type wireEvent struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventTarget publishes store events on a Redis channel.
type EventTarget struct {
	client  redis.UniversalClient
	channel string
}

var _ oidcstore.EventTarget = (*EventTarget)(nil)

// NewEventTarget publishes on channel, or on "oidc:events" when empty.
func NewEventTarget(client redis.UniversalClient, channel string) *EventTarget {
	if channel == "" {
		channel = defaultChannel
	}
	return &EventTarget{client: client, channel: channel}
}

// Dispatch publishes ev. Payloads are JSON encoded; error payloads keep
// their source and message.
func (t *EventTarget) Dispatch(ctx context.Context, ev oidcstore.Event) error {
	msg := wireEvent{Name: ev.Name}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		msg.Payload = raw
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := t.client.Publish(ctx, t.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe streams events published on the target channel until ctx is
// done. Payloads are delivered as json.RawMessage.
func (t *EventTarget) Subscribe(ctx context.Context) (<-chan oidcstore.Event, error) {
	sub := t.client.Subscribe(ctx, t.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan oidcstore.Event)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					return
				}
				var w wireEvent
				if err := json.Unmarshal([]byte(m.Payload), &w); err != nil {
					continue
				}
				ev := oidcstore.Event{Name: w.Name}
				if len(w.Payload) > 0 {
					ev.Payload = w.Payload
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
