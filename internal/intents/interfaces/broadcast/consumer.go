// Package broadcast forwards committed intents onto the per-device channel
// that listeners subscribe to.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"fleetguardian/internal/eventing"
	intentevents "fleetguardian/internal/intents/application/events"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/pubsub"
)

// ConsumerName identifies this consumer in the processed-events table.
const ConsumerName = "intents.broadcast"

// EventIntent is the broadcaster event name for a delivered intent.
const EventIntent = "intent"

// Channel returns the broadcast channel for a device.
func Channel(target string) string {
	return "intents:" + target
}

// Consumer publishes IntentIssued events to the broadcaster.
type Consumer struct {
	broadcaster pubsub.Broadcaster
	logger      logging.Logger
}

// NewConsumer constructs a consumer.
func NewConsumer(broadcaster pubsub.Broadcaster, logger logging.Logger) (*Consumer, error) {
	if broadcaster == nil {
		return nil, errors.New("intents broadcast: nil broadcaster")
	}
	return &Consumer{broadcaster: broadcaster, logger: logging.OrDiscard(logger)}, nil
}

// Register subscribes the consumer on bus.
func (c *Consumer) Register(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[intentevents.IntentIssued](), ConsumerName, c.Handle, store)
}

// Handle publishes one intent.
func (c *Consumer) Handle(ctx context.Context, event any) error {
	var issued intentevents.IntentIssued
	switch e := event.(type) {
	case intentevents.IntentIssued:
		issued = e
	case *intentevents.IntentIssued:
		issued = *e
	default:
		return fmt.Errorf("intents broadcast: unexpected event %T", event)
	}
	intent := intents.Intent{
		ID:             issued.IntentID,
		Target:         issued.Target,
		Kind:           intents.Kind(issued.Kind),
		Payload:        issued.Payload,
		OrganizationID: issued.OrganizationID,
		BranchID:       issued.BranchID,
		CreatedAt:      issued.CreatedAt,
	}
	if err := c.broadcaster.Publish(ctx, Channel(intent.Target), EventIntent, intent); err != nil {
		c.logger.WithError(err).WithFields(logging.Fields{
			"intent_id": intent.ID,
			"target":    intent.Target,
		}).Warn("intent broadcast failed")
		return err
	}
	metrics.IncIntentSent(string(intent.Kind), "broadcast")
	return nil
}
