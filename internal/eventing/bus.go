package eventing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventing: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventing: invalid event type")

// ErrHandlerPanic marks a handler that panicked while handling an event.
var ErrHandlerPanic = errors.New("eventing: handler panicked")

// HandlerError identifies which subscriber of an event type failed.
type HandlerError struct {
	EventType string
	DeviceID  string
	Position  int
	Err       error
}

func (e *HandlerError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("eventing: %s handler #%d for device %s: %v", e.EventType, e.Position, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("eventing: %s handler #%d: %v", e.EventType, e.Position, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// InMemoryBus is an in-process event bus. Events that name the same device
// are delivered one at a time in publish order; other devices do not wait.
// Every handler runs even when an earlier one fails, and the failures are
// joined into the returned error.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler

	lanesMu sync.Mutex
	lanes   map[string]*deviceLane
}

type deviceLane struct {
	mu   sync.Mutex
	refs int
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]EventHandler),
		lanes:    make(map[string]*deviceLane),
	}
}

// Publish dispatches an event to all handlers of its type.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	deviceID := deviceOf(ctx, event)
	if deviceID != "" {
		release := b.acquire(deviceID)
		defer release()
	}

	var errs []error
	for i, handler := range handlers {
		if err := invoke(ctx, handler, event); err != nil {
			errs = append(errs, &HandlerError{EventType: eventType, DeviceID: deviceID, Position: i, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers a handler for an event type.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// Handlers reports how many handlers are subscribed to an event type.
func (b *InMemoryBus) Handlers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *InMemoryBus) acquire(deviceID string) func() {
	b.lanesMu.Lock()
	lane, ok := b.lanes[deviceID]
	if !ok {
		lane = &deviceLane{}
		b.lanes[deviceID] = lane
	}
	lane.refs++
	b.lanesMu.Unlock()

	lane.mu.Lock()
	return func() {
		lane.mu.Unlock()
		b.lanesMu.Lock()
		lane.refs--
		if lane.refs == 0 {
			delete(b.lanes, deviceID)
		}
		b.lanesMu.Unlock()
	}
}

func invoke(ctx context.Context, handler EventHandler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(ctx, event)
}

// deviceOf prefers the envelope's device, then a DeviceID or Target field.
func deviceOf(ctx context.Context, event any) string {
	if env, ok := EnvelopeFromContext(ctx); ok && env.DeviceID != "" {
		return env.DeviceID
	}
	return extractStringField(event, "DeviceID", "Target")
}

// EventType returns the fully-qualified type name for an event instance.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf returns the fully-qualified type name for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
