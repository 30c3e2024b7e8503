package agent

import (
	"context"

	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
)

// Display is the unit's screen and app shell. The headless agent logs the
// calls; a unit with a screen supplies its own.
type Display interface {
	Dim(ctx context.Context, level float64) error
	Reset(ctx context.Context) error
	Reload(ctx context.Context) error
	ShowRide(ctx context.Context, ride intents.StartRide) error
	CompleteRide(ctx context.Context, ride intents.CompleteRide) error
}

// LogDisplay records display calls in the log.
type LogDisplay struct {
	Logger logging.Logger
}

func (d LogDisplay) log() logging.Logger {
	return logging.OrDiscard(d.Logger)
}

func (d LogDisplay) Dim(_ context.Context, level float64) error {
	d.log().WithField("level", level).Info("display dimmed")
	return nil
}

func (d LogDisplay) Reset(context.Context) error {
	d.log().Info("display reset")
	return nil
}

func (d LogDisplay) Reload(context.Context) error {
	d.log().Info("display reload")
	return nil
}

func (d LogDisplay) ShowRide(_ context.Context, ride intents.StartRide) error {
	d.log().WithFields(logging.Fields{
		"ride_id":  ride.RideID,
		"pickup":   ride.Pickup.Address,
		"dropoff":  ride.Dropoff.Address,
		"geocoded": ride.Geocoded,
	}).Info("ride started")
	return nil
}

func (d LogDisplay) CompleteRide(_ context.Context, ride intents.CompleteRide) error {
	d.log().WithField("ride_id", ride.RideID).Info("ride completed")
	return nil
}
