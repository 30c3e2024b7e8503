// Package agent is the field side: it links to a device identifier, listens
// for intents on that device's channel and drives capture, relay and
// tracking.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"fleetguardian/internal/identifier"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/intents/interfaces/broadcast"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/pubsub"
)

// ErrInvalidDevice is returned when linking to a malformed identifier.
var ErrInvalidDevice = errors.New("agent: invalid device identifier")

// LinkState is the listener's state.
type LinkState int

const (
	StateUnlinked LinkState = iota
	StateLinked
)

func (s LinkState) String() string {
	if s == StateLinked {
		return "linked"
	}
	return "unlinked"
}

// IntentHandler handles one decoded intent.
type IntentHandler func(ctx context.Context, intent intents.Intent, payload intents.Payload) error

// Listener subscribes to one device's intent channel and dispatches each
// intent synchronously to the handler registered for its kind. Handler
// errors are logged and never leave the listener.
type Listener struct {
	broadcaster pubsub.Broadcaster
	logger      logging.Logger
	seen        *seenSet

	handlersMu sync.RWMutex
	handlers   map[intents.Kind]IntentHandler

	mu       sync.Mutex
	target   string
	sub      pubsub.Subscription
	onUnlink []func(target string)
}

// ListenerOption configures the listener.
type ListenerOption func(*Listener)

// WithSeenCapacity bounds the redelivery filter.
func WithSeenCapacity(n int) ListenerOption {
	return func(l *Listener) {
		l.seen = newSeenSet(n)
	}
}

// WithListenerLogger sets the logger.
func WithListenerLogger(logger logging.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListener constructs an unlinked listener.
func NewListener(broadcaster pubsub.Broadcaster, opts ...ListenerOption) (*Listener, error) {
	if broadcaster == nil {
		return nil, errors.New("agent: nil broadcaster")
	}
	l := &Listener{
		broadcaster: broadcaster,
		logger:      logging.Discard(),
		seen:        newSeenSet(256),
		handlers:    make(map[intents.Kind]IntentHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Handle registers h for kind, replacing any previous handler.
func (l *Listener) Handle(kind intents.Kind, h IntentHandler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[kind] = h
}

// OnUnlink registers fn to run, with the old target, whenever the listener
// unlinks or relinks.
func (l *Listener) OnUnlink(fn func(target string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onUnlink = append(l.onUnlink, fn)
}

// State reports whether the listener is linked.
func (l *Listener) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return StateLinked
	}
	return StateUnlinked
}

// Target returns the linked identifier, or "".
func (l *Listener) Target() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// Link subscribes to id's intent channel. Linking to the current id is a
// no-op; linking to another id tears the old subscription down first.
func (l *Listener) Link(ctx context.Context, id string) error {
	target, err := identifier.Parse(id)
	if err != nil {
		l.logger.WithField("device_id", id).Warn("link rejected: invalid identifier")
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}

	l.mu.Lock()
	if l.sub != nil && l.target == target {
		l.mu.Unlock()
		return nil
	}
	old, oldTarget, hooks := l.detachLocked()
	l.mu.Unlock()
	l.release(old, oldTarget, hooks)

	l.seen.Reset()
	sub, err := l.broadcaster.Subscribe(ctx, broadcast.Channel(target), pubsub.OnEvent(l.dispatch, broadcast.EventIntent))
	if err != nil {
		return fmt.Errorf("agent: subscribe: %w", err)
	}

	l.mu.Lock()
	l.sub, l.target = sub, target
	l.mu.Unlock()
	l.logger.WithField("device_id", target).Info("listener linked")
	return nil
}

// Unlink releases the subscription. Safe when already unlinked.
func (l *Listener) Unlink() error {
	l.mu.Lock()
	sub, target, hooks := l.detachLocked()
	l.mu.Unlock()
	return l.release(sub, target, hooks)
}

// Close is Unlink.
func (l *Listener) Close() error {
	return l.Unlink()
}

func (l *Listener) detachLocked() (pubsub.Subscription, string, []func(string)) {
	sub, target := l.sub, l.target
	l.sub, l.target = nil, ""
	hooks := append([]func(string){}, l.onUnlink...)
	return sub, target, hooks
}

func (l *Listener) release(sub pubsub.Subscription, target string, hooks []func(string)) error {
	if sub == nil {
		return nil
	}
	err := sub.Close()
	for _, fn := range hooks {
		fn(target)
	}
	l.logger.WithField("device_id", target).Info("listener unlinked")
	return err
}

func (l *Listener) dispatch(ctx context.Context, msg pubsub.Message) {
	var intent intents.Intent
	if err := msg.Decode(&intent); err != nil {
		l.logger.WithError(err).Warn("intent dropped: undecodable")
		return
	}
	self := l.Target()
	if self == "" || !strings.EqualFold(intent.Target, self) {
		return
	}
	if intent.ID != "" && !l.seen.Add(intent.ID) {
		metrics.IncIntentHandled(string(intent.Kind), "duplicate")
		return
	}

	l.handlersMu.RLock()
	handler, ok := l.handlers[intent.Kind]
	l.handlersMu.RUnlock()
	if !ok {
		metrics.IncIntentHandled(string(intent.Kind), metrics.ResultSkipped)
		l.logger.WithField("kind", intent.Kind).Debug("intent ignored: no handler")
		return
	}
	payload, err := intent.Decode()
	if err != nil {
		metrics.IncIntentHandled(string(intent.Kind), "invalid")
		l.logger.WithError(err).WithField("intent_id", intent.ID).Warn("intent dropped: bad payload")
		return
	}

	fields := logging.Fields{"intent_id": intent.ID, "kind": intent.Kind}
	if err := handler(ctx, intent, payload); err != nil {
		metrics.IncIntentHandled(string(intent.Kind), metrics.ResultError)
		l.logger.WithError(err).WithFields(fields).Warn("intent handler failed")
		return
	}
	metrics.IncIntentHandled(string(intent.Kind), metrics.ResultSuccess)
	l.logger.WithFields(fields).Debug("intent handled")
}
