package eventing

import (
	"context"
	"time"

	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
)

// OutboxPublisher writes events to the outbox instead of delivering them
// directly. The dispatcher picks them up.
type OutboxPublisher struct {
	outbox OutboxWriter
	sub    Subscriber
	logger logging.Logger
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler EventHandler)
}

// NewOutboxPublisher constructs a publisher.
func NewOutboxPublisher(outbox OutboxWriter, sub Subscriber, logger logging.Logger) *OutboxPublisher {
	return &OutboxPublisher{outbox: outbox, sub: sub, logger: logging.OrDiscard(logger)}
}

// Publish writes the event to outbox.
func (p *OutboxPublisher) Publish(ctx context.Context, event any) error {
	start := time.Now()
	if p == nil || p.outbox == nil {
		metrics.ObserveOutboxPublish(metrics.ResultSkipped, time.Since(start))
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	duration := time.Since(start)
	metrics.ObserveOutboxPublish(metrics.ResultSuccess, duration)
	if duration > 50*time.Millisecond {
		p.logger.WithFields(logging.Fields{
			"duration_ms": duration.Milliseconds(),
			"event_type":  env.EventType,
		}).Warn("slow outbox publish")
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *OutboxPublisher) Subscribe(eventType string, handler EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
