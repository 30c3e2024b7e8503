package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fleetguardian/internal/logging"
)

const defaultDialTimeout = 5 * time.Second

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(ctx context.Context, url string) (goredis.UniversalClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("pubsub: empty redis url")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("pubsub: parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub: ping redis: %w", err)
	}
	return client, nil
}

// RedisBroadcaster maps channels onto Redis PUBLISH/SUBSCRIBE. Frames are
// JSON {"event": ..., "payload": ...}.
type RedisBroadcaster struct {
	client goredis.UniversalClient
	prefix string
	logger logging.Logger
}

// RedisOption configures the broadcaster.
type RedisOption func(*RedisBroadcaster)

// WithChannelPrefix namespaces every channel name.
func WithChannelPrefix(prefix string) RedisOption {
	return func(b *RedisBroadcaster) {
		b.prefix = prefix
	}
}

// WithLogger sets the logger for decode errors.
func WithLogger(logger logging.Logger) RedisOption {
	return func(b *RedisBroadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewRedisBroadcaster constructs a broadcaster on client.
func NewRedisBroadcaster(client goredis.UniversalClient, opts ...RedisOption) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, errors.New("pubsub: nil redis client")
	}
	b := &RedisBroadcaster{client: client, logger: logging.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Publish sends one frame.
func (b *RedisBroadcaster) Publish(ctx context.Context, channel, event string, payload any) error {
	if channel == "" || event == "" {
		return errors.New("pubsub: empty channel or event")
	}
	frame, _, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("marshal pubsub payload: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+channel, frame).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription with the server before returning, then
// delivers on a dedicated goroutine.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if channel == "" || handler == nil {
		return nil, errors.New("pubsub: empty channel or nil handler")
	}
	full := b.prefix + channel
	ps := b.client.Subscribe(ctx, full)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to redis: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &redisSubscription{ps: ps, cancel: cancel}
	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case <-subCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := msg.unmarshal(raw.Payload); err != nil {
					b.logger.WithError(err).WithField("channel", channel).Warn("pubsub: dropping undecodable frame")
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				msg.Channel = channel
				handler(subCtx, msg)
			}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	ps     *goredis.PubSub
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
	})
	return s.err
}
