package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	alarms "fleetguardian/internal/alarms/domain"
	"fleetguardian/internal/auth"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/sensors"
	telemetry "fleetguardian/internal/telemetry/domain"
)

// DefaultTrackInterval is the polling period when none is configured.
const DefaultTrackInterval = 10 * time.Second

const minTrackInterval = time.Second

// DeviceToucher records that a device reported.
type DeviceToucher interface {
	Touch(ctx context.Context, deviceID string) error
}

// AlertChecker evaluates a sample against the alert rules.
type AlertChecker interface {
	Check(ctx context.Context, tenant auth.Tenant, sample alarms.Sample) ([]intents.Intent, error)
}

// Tracker polls the unit's position and battery while tracking is on and
// appends each reading to the location log.
type Tracker struct {
	deviceID string
	tenant   auth.Tenant
	location sensors.LocationSource
	battery  sensors.BatteryGauge
	samples  telemetry.LocationRepository
	devices  DeviceToucher
	alerts   AlertChecker
	feed     telemetry.LocationFeed
	interval time.Duration
	now      func() time.Time
	logger   logging.Logger

	mu      sync.Mutex
	running time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
}

// TrackerOption configures the tracker.
type TrackerOption func(*Tracker)

// WithBattery adds battery readings to each sample.
func WithBattery(gauge sensors.BatteryGauge) TrackerOption {
	return func(t *Tracker) {
		t.battery = gauge
	}
}

// WithDeviceToucher updates the device's last-seen time on each sample.
func WithDeviceToucher(devices DeviceToucher) TrackerOption {
	return func(t *Tracker) {
		t.devices = devices
	}
}

// WithAlertChecker evaluates alert rules on each sample.
func WithAlertChecker(alerts AlertChecker) TrackerOption {
	return func(t *Tracker) {
		t.alerts = alerts
	}
}

// WithLocationFeed publishes each stored sample to live viewers.
func WithLocationFeed(feed telemetry.LocationFeed) TrackerOption {
	return func(t *Tracker) {
		t.feed = feed
	}
}

// WithTrackInterval sets the default polling period.
func WithTrackInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTrackerClock overrides time.Now.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(logger logging.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker constructs a stopped tracker for deviceID within tenant.
func NewTracker(deviceID string, tenant auth.Tenant, location sensors.LocationSource, samples telemetry.LocationRepository, opts ...TrackerOption) (*Tracker, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if location == nil || samples == nil {
		return nil, errors.New("agent: tracker needs a location source and repository")
	}
	t := &Tracker{
		deviceID: deviceID,
		tenant:   tenant,
		location: location,
		samples:  samples,
		interval: DefaultTrackInterval,
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Running reports whether the polling loop is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Start begins polling every interval, or the default when interval is
// zero. Starting with the current interval is a no-op; another interval
// restarts the loop.
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.interval
	}
	if interval < minTrackInterval {
		interval = minTrackInterval
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		if t.running == interval {
			return
		}
		t.stopLocked()
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	t.cancel, t.done, t.running = cancel, done, interval
	go t.loop(loopCtx, interval, done)
	t.logger.WithFields(logging.Fields{
		"device_id": t.deviceID,
		"interval":  interval.String(),
	}).Info("tracking started")
}

// Stop ends polling and waits for an in-flight sample. Safe when stopped.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.stopLocked()
	t.logger.WithField("device_id", t.deviceID).Info("tracking stopped")
}

func (t *Tracker) stopLocked() {
	t.cancel()
	<-t.done
	t.cancel, t.done, t.running = nil, nil, 0
}

func (t *Tracker) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := t.Sample(ctx); err != nil && ctx.Err() == nil {
			t.logger.WithError(err).WithField("device_id", t.deviceID).Warn("location sample failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample takes one reading, appends it and evaluates alerts. Only a failed
// reading or append is returned; last-seen and alert failures are logged.
func (t *Tracker) Sample(ctx context.Context) (telemetry.LocationSample, error) {
	fix, err := t.location.Current(ctx)
	if err != nil {
		return telemetry.LocationSample{}, fmt.Errorf("agent: read location: %w", err)
	}
	at := fix.SampledAt
	if at.IsZero() {
		at = t.now()
	}
	sample := telemetry.LocationSample{
		DeviceID:       t.deviceID,
		OrganizationID: t.tenant.OrganizationID,
		BranchID:       t.tenant.BranchID,
		Lat:            fix.Lat,
		Lng:            fix.Lng,
		SpeedKmh:       fix.SpeedKmh,
		Heading:        fix.Heading,
		SampledAt:      at.UTC(),
	}
	if t.battery != nil {
		level, err := t.battery.Level(ctx)
		if err != nil {
			t.logger.WithError(err).Debug("battery unavailable")
		} else {
			sample.Battery = &level
		}
	}
	if err := sample.Validate(); err != nil {
		return sample, err
	}
	if err := t.samples.Append(ctx, sample); err != nil {
		return sample, fmt.Errorf("agent: append sample: %w", err)
	}
	metrics.IncLocationSample()

	if t.feed != nil {
		if err := t.feed.Publish(ctx, sample); err != nil {
			t.logger.WithError(err).WithField("device_id", t.deviceID).Warn("live location publish failed")
		}
	}
	if t.devices != nil {
		if err := t.devices.Touch(ctx, t.deviceID); err != nil {
			t.logger.WithError(err).WithField("device_id", t.deviceID).Warn("last-seen update failed")
		}
	}
	if t.alerts != nil {
		if _, err := t.alerts.Check(ctx, t.tenant, alarms.Sample{
			DeviceID: sample.DeviceID,
			Lat:      sample.Lat,
			Lng:      sample.Lng,
			SpeedKmh: sample.SpeedKmh,
			Battery:  sample.Battery,
			At:       sample.SampledAt,
		}); err != nil {
			t.logger.WithError(err).WithField("device_id", t.deviceID).Warn("alert check failed")
		}
	}
	return sample, nil
}
