// Package interfaces connects the alarm service to the event bus.
package interfaces

import (
	"context"
	"errors"
	"fmt"

	alarmapp "fleetguardian/internal/alarms/application"
	"fleetguardian/internal/eventing"
	intentevents "fleetguardian/internal/intents/application/events"
	telemetryevents "fleetguardian/internal/telemetry/application/events"
)

// Consumer names in the processed-events table.
const (
	LocationConsumerName = "alarms.location"
	NotifyConsumerName   = "alarms.notify"
)

// LocationRecordedConsumer feeds ingested samples into the alarm service.
type LocationRecordedConsumer struct {
	app *alarmapp.Service
}

// NewLocationRecordedConsumer constructs a consumer.
func NewLocationRecordedConsumer(app *alarmapp.Service) (*LocationRecordedConsumer, error) {
	if app == nil {
		return nil, errors.New("alarms consumer: nil service")
	}
	return &LocationRecordedConsumer{app: app}, nil
}

// Register subscribes the consumer on bus.
func (c *LocationRecordedConsumer) Register(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[telemetryevents.LocationRecorded](), LocationConsumerName, c.Handle, store)
}

// Handle evaluates one sample.
func (c *LocationRecordedConsumer) Handle(ctx context.Context, event any) error {
	switch e := event.(type) {
	case telemetryevents.LocationRecorded:
		return c.app.HandleLocationRecorded(ctx, e)
	case *telemetryevents.LocationRecorded:
		return c.app.HandleLocationRecorded(ctx, *e)
	default:
		return fmt.Errorf("alarms consumer: unexpected event %T", event)
	}
}

// AlertConsumer forwards SOS and ALERT intents and SOS acknowledgements to a
// notifier.
type AlertConsumer struct {
	notifier alarmapp.AlertNotifier
}

// NewAlertConsumer constructs a consumer.
func NewAlertConsumer(notifier alarmapp.AlertNotifier) (*AlertConsumer, error) {
	if notifier == nil {
		return nil, errors.New("alert consumer: nil notifier")
	}
	return &AlertConsumer{notifier: notifier}, nil
}

// Register subscribes the consumer on bus.
func (c *AlertConsumer) Register(bus eventing.EventBus, store eventing.ProcessedStore) {
	eventing.Subscribe(bus, eventing.EventTypeOf[intentevents.IntentIssued](), NotifyConsumerName, c.Handle, store)
	eventing.Subscribe(bus, eventing.EventTypeOf[intentevents.SOSAcknowledged](), NotifyConsumerName, c.Handle, store)
}

// Handle notifies for alert-bearing events and ignores the rest.
func (c *AlertConsumer) Handle(ctx context.Context, event any) error {
	switch e := event.(type) {
	case intentevents.IntentIssued:
		c.forwardIssued(ctx, e)
	case *intentevents.IntentIssued:
		c.forwardIssued(ctx, *e)
	case intentevents.SOSAcknowledged:
		c.notifier.Notify(ctx, alarmapp.FromSOSAcknowledged(e))
	case *intentevents.SOSAcknowledged:
		c.notifier.Notify(ctx, alarmapp.FromSOSAcknowledged(*e))
	default:
		return fmt.Errorf("alert consumer: unexpected event %T", event)
	}
	return nil
}

func (c *AlertConsumer) forwardIssued(ctx context.Context, issued intentevents.IntentIssued) {
	if alert, ok := alarmapp.FromIntentIssued(issued); ok {
		c.notifier.Notify(ctx, alert)
	}
}
