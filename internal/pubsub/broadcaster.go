// Package pubsub is the named-channel broadcast primitive shared by the relay
// and the intent feed: publish(channel, event, payload) fans out to every
// current subscriber, best effort, with no ordering or durability.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned when publishing or subscribing on a closed broadcaster.
var ErrClosed = errors.New("pubsub: closed")

// Message is one delivery on a channel.
type Message struct {
	Channel string          `json:"-"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler receives messages. Handlers for one subscription are called
// sequentially.
type Handler func(ctx context.Context, msg Message)

// Subscription is released with Close. Close is idempotent; once it returns
// no further handler call begins.
type Subscription interface {
	Close() error
}

// Broadcaster publishes to and subscribes on named channels.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload any) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
}

// OnEvent wraps handler so it only sees messages for the named events.
func OnEvent(handler Handler, events ...string) Handler {
	set := make(map[string]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}
	return func(ctx context.Context, msg Message) {
		if _, ok := set[msg.Event]; ok {
			handler(ctx, msg)
		}
	}
}

func encode(event string, payload any) ([]byte, json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	frame, err := json.Marshal(Message{Event: event, Payload: raw})
	if err != nil {
		return nil, nil, err
	}
	return frame, raw, nil
}

func (m *Message) unmarshal(frame string) error {
	return json.Unmarshal([]byte(frame), m)
}
