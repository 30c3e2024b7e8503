package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrUnknownEventType is returned when an envelope names an unregistered type.
var ErrUnknownEventType = errors.New("eventing: unknown event type")

// Registry maps event type names to constructors for decoding payloads.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]reflect.Type
}

// NewRegistry constructs a registry, optionally pre-registering samples.
func NewRegistry(samples ...any) *Registry {
	r := &Registry{factories: make(map[string]reflect.Type)}
	for _, sample := range samples {
		r.Register(sample)
	}
	return r
}

// Register registers an event type (value or pointer).
func (r *Registry) Register(sample any) {
	if r == nil || sample == nil {
		return
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	r.factories[t.String()] = t
	r.mu.Unlock()
}

// DecodePayload decodes envelope payload into a concrete event value.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, errors.New("eventing: nil registry")
	}
	r.mu.RLock()
	t, ok := r.factories[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}
	target := reflect.New(t)
	if err := json.Unmarshal(env.Payload, target.Interface()); err != nil {
		return nil, fmt.Errorf("eventing: decode %s: %w", env.EventType, err)
	}
	return target.Elem().Interface(), nil
}
