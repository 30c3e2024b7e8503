package eventing

import (
	"context"
	"errors"
	"time"

	"fleetguardian/internal/observability/metrics"
)

// ProcessedStore provides idempotency checks.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// ClaimingStore claims an event for a consumer atomically. Stores that
// implement it replace the check-then-mark sequence, so concurrent workers
// cannot both run a handler for the same event.
type ClaimingStore interface {
	Claim(ctx context.Context, eventID, consumerName string) (bool, error)
	Release(ctx context.Context, eventID, consumerName string) error
}

// Subscribe wraps handler with idempotency if store is provided.
func Subscribe(bus EventBus, eventType, consumerName string, handler EventHandler, store ProcessedStore) {
	if store == nil {
		bus.Subscribe(eventType, handler)
		return
	}
	bus.Subscribe(eventType, WrapHandler(consumerName, handler, store))
}

// WrapHandler enforces idempotency per consumer. Events without an envelope
// (published directly on the bus) are passed through.
func WrapHandler(consumerName string, handler EventHandler, store ProcessedStore) EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		if claimer, ok := store.(ClaimingStore); ok {
			won, err := claimer.Claim(ctx, env.EventID, consumerName)
			if err != nil || !won {
				return err
			}
			observeLag(consumerName, env, event)
			if err := handler(ctx, event); err != nil {
				if relErr := claimer.Release(ctx, env.EventID, consumerName); relErr != nil {
					return errors.Join(err, relErr)
				}
				return err
			}
			return nil
		}

		processed, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}
		observeLag(consumerName, env, event)
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}

func observeLag(consumerName string, env Envelope, event any) {
	occurredAt := env.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt")
	}
	if !occurredAt.IsZero() {
		metrics.ObserveConsumerLag(consumerName, time.Since(occurredAt))
	}
}
