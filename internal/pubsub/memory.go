package pubsub

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroadcaster delivers in-process, synchronously on the publishing
// goroutine. Used by single-process deployments and tests.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBroadcaster constructs an empty broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[string]map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	owner   *MemoryBroadcaster
	channel string
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	// mu serializes handler calls.
	mu   sync.Mutex
	once sync.Once
}

// Publish delivers to every current subscriber of channel.
func (b *MemoryBroadcaster) Publish(ctx context.Context, channel, event string, payload any) error {
	if channel == "" || event == "" {
		return errors.New("pubsub: empty channel or event")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, raw, err := encode(event, payload)
	if err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySubscription, 0, len(b.subs[channel]))
	for sub := range b.subs[channel] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	msg := Message{Channel: channel, Event: event, Payload: raw}
	for _, sub := range targets {
		sub.deliver(msg)
	}
	return nil
}

// Subscribe registers handler on channel until the subscription is closed
// or ctx is done.
func (b *MemoryBroadcaster) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if channel == "" || handler == nil {
		return nil, errors.New("pubsub: empty channel or nil handler")
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &memorySubscription{owner: b, channel: channel, handler: handler, ctx: subCtx, cancel: cancel}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = sub.Close()
			case <-subCtx.Done():
			}
		}()
	}
	return sub, nil
}

// Subscribers reports the current subscriber count on channel.
func (b *MemoryBroadcaster) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close drops every subscription.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	b.closed = true
	var all []*memorySubscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.handler(s.ctx, msg)
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.owner.mu.Lock()
		delete(s.owner.subs[s.channel], s)
		if len(s.owner.subs[s.channel]) == 0 {
			delete(s.owner.subs, s.channel)
		}
		s.owner.mu.Unlock()
	})
	return nil
}
