// Package feed pushes stored location samples to live dashboards over the
// broadcaster, one channel per tenant.
package feed

import (
	"context"
	"errors"
	"fmt"

	"fleetguardian/internal/pubsub"
	telemetry "fleetguardian/internal/telemetry/domain"
)

// EventLocation is the broadcaster event name for a sample.
const EventLocation = "location"

// Channel is the tenant's live location channel.
func Channel(organizationID, branchID string) string {
	return "locations:" + organizationID + ":" + branchID
}

// Publisher implements telemetry.LocationFeed on a broadcaster.
type Publisher struct {
	broadcaster pubsub.Broadcaster
}

// NewPublisher constructs a publisher.
func NewPublisher(broadcaster pubsub.Broadcaster) (*Publisher, error) {
	if broadcaster == nil {
		return nil, errors.New("location feed: nil broadcaster")
	}
	return &Publisher{broadcaster: broadcaster}, nil
}

// Publish sends every sample and reports the failures together.
func (p *Publisher) Publish(ctx context.Context, samples ...telemetry.LocationSample) error {
	var errs []error
	for _, s := range samples {
		if s.OrganizationID == "" || s.BranchID == "" {
			errs = append(errs, fmt.Errorf("location feed: %s: tenant required", s.DeviceID))
			continue
		}
		if err := p.broadcaster.Publish(ctx, Channel(s.OrganizationID, s.BranchID), EventLocation, s); err != nil {
			errs = append(errs, fmt.Errorf("location feed: %s: %w", s.DeviceID, err))
		}
	}
	return errors.Join(errs...)
}
