package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	deviceapp "fleetguardian/internal/devices/application"
	devicerepo "fleetguardian/internal/devices/infrastructure/postgres"
	eventingrepo "fleetguardian/internal/eventing/infrastructure/postgres"
	"fleetguardian/internal/geo"
	intentsapp "fleetguardian/internal/intents/application"
	intentsrepo "fleetguardian/internal/intents/infrastructure/postgres"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/pubsub"
	telemetrypostgres "fleetguardian/internal/telemetry/infrastructure/postgres"
)

func openDB(ctx context.Context, cfg config) (*sql.DB, error) {
	if err := cfg.requireDatabase(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// openBroadcaster uses Redis when REDIS_URL is set and the in-process
// broadcaster otherwise, which only reaches subscribers in the same process.
func openBroadcaster(ctx context.Context, cfg config, logger logging.Logger) (pubsub.Broadcaster, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set: using in-process broadcaster")
		b := pubsub.NewMemoryBroadcaster()
		return b, func() { _ = b.Close() }, nil
	}
	client, err := pubsub.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	b, err := pubsub.NewRedisBroadcaster(client, pubsub.WithLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return b, func() { _ = client.Close() }, nil
}

// stores are the repositories and services every role shares.
type stores struct {
	outbox    *eventingrepo.OutboxStore
	intents   *intentsrepo.IntentRepository
	devices   *devicerepo.DeviceRepository
	locations *telemetrypostgres.LocationRepository
	deviceSvc *deviceapp.Service
	intentSvc *intentsapp.Service
}

func newStores(db *sql.DB, cfg config, logger logging.Logger, intentOpts ...intentsapp.Option) (*stores, error) {
	s := &stores{
		outbox:    eventingrepo.NewOutboxStore(db),
		devices:   devicerepo.NewDeviceRepository(db),
		locations: telemetrypostgres.NewLocationRepository(db),
	}
	s.intents = intentsrepo.NewIntentRepository(db, s.outbox)

	deviceSvc, err := deviceapp.NewService(s.devices,
		deviceapp.WithLocations(s.locations),
		deviceapp.WithSOSIndex(s.intents),
		deviceapp.WithMovingThreshold(cfg.MovingThresholdKmh),
		deviceapp.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("device service: %w", err)
	}
	s.deviceSvc = deviceSvc

	opts := append([]intentsapp.Option{
		intentsapp.WithDeviceChecker(deviceSvc),
		intentsapp.WithLogger(logger),
	}, intentOpts...)
	intentSvc, err := intentsapp.NewService(s.intents, opts...)
	if err != nil {
		return nil, fmt.Errorf("intent service: %w", err)
	}
	s.intentSvc = intentSvc
	return s, nil
}

func newGeoClient(cfg config) *geo.Client {
	client, err := geo.NewClient(cfg.GeocoderURL, cfg.RouterURL)
	if err != nil {
		return nil
	}
	return client
}
