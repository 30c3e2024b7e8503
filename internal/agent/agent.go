package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/capture"
	"fleetguardian/internal/geo"
	"fleetguardian/internal/identifier"
	intentsapp "fleetguardian/internal/intents/application"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/media"
	"fleetguardian/internal/pubsub"
	"fleetguardian/internal/relay"
	"fleetguardian/internal/sensors"
	telemetry "fleetguardian/internal/telemetry/domain"
)

// EventStatus is the broadcaster event carrying a StatusReport.
const EventStatus = "status"

// ErrNotLinked is returned by operations that need a linked device.
var ErrNotLinked = errors.New("agent: not linked")

// ErrNotConfigured is returned when a feature's collaborators are missing.
var ErrNotConfigured = errors.New("agent: feature not configured")

// StatusChannel returns the channel GET_STATUS replies are published on.
func StatusChannel(deviceID string) string {
	return "status:" + deviceID
}

// StatusReport answers GET_STATUS.
type StatusReport struct {
	DeviceID   string    `json:"device_id"`
	Relay      string    `json:"relay"`
	Audio      bool      `json:"audio"`
	Tracking   bool      `json:"tracking"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	SpeedKmh   *float64  `json:"speed,omitempty"`
	Battery    *float64  `json:"battery,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// IntentSender writes intents raised by the unit itself.
type IntentSender interface {
	Send(ctx context.Context, req intentsapp.SendRequest) (*intents.Intent, error)
}

// Config holds the agent's tunables.
type Config struct {
	Tenant        auth.Tenant
	Relay         relay.Config
	Capture       capture.Options
	TrackInterval time.Duration
	// AutoTrack starts tracking when Run begins.
	AutoTrack bool
}

// Dependencies are the agent's collaborators. Broadcaster and Camera are
// required; a feature whose collaborators are nil is reported as not
// configured when invoked.
type Dependencies struct {
	Broadcaster pubsub.Broadcaster
	Camera      sensors.Camera
	Microphone  sensors.Microphone
	Location    sensors.LocationSource
	Battery     sensors.BatteryGauge
	ObjectStore media.ObjectStore
	Media       media.Repository
	Samples     telemetry.LocationRepository
	Feed        telemetry.LocationFeed
	Devices     DeviceToucher
	Alerts      AlertChecker
	Intents     IntentSender
	Display     Display
	Logger      logging.Logger
}

// Option configures the agent.
type Option func(*Agent)

// WithFrameEncoder replaces the relay's frame re-encoder.
func WithFrameEncoder(encode func([]byte) ([]byte, error)) Option {
	return func(a *Agent) {
		a.frameEncoder = encode
	}
}

// WithCaptureEncoder replaces the snapshot re-encoder.
func WithCaptureEncoder(encode func([]byte) ([]byte, error)) Option {
	return func(a *Agent) {
		a.captureEncoder = encode
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// Agent is one field unit. Link binds it to a device identifier; from then
// on intents addressed to that device drive its relay, snapshots, tracking
// and display.
type Agent struct {
	cfg            Config
	deps           Dependencies
	camera         sensors.Camera
	listener       *Listener
	frameEncoder   func([]byte) ([]byte, error)
	captureEncoder func([]byte) ([]byte, error)
	now            func() time.Time
	logger         logging.Logger

	mu          sync.Mutex
	deviceID    string
	publisher   *relay.Publisher
	audio       bool
	snapshotter *capture.Snapshotter
	tracker     *Tracker
	kill        context.CancelFunc
}

// New constructs an unlinked agent.
func New(cfg Config, deps Dependencies, opts ...Option) (*Agent, error) {
	if err := cfg.Tenant.Validate(); err != nil {
		return nil, err
	}
	if deps.Broadcaster == nil || deps.Camera == nil {
		return nil, errors.New("agent: broadcaster and camera required")
	}
	logger := logging.OrDiscard(deps.Logger)
	if deps.Display == nil {
		deps.Display = LogDisplay{Logger: logger}
	}
	listener, err := NewListener(deps.Broadcaster, WithListenerLogger(logger))
	if err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:      cfg,
		deps:     deps,
		camera:   sensors.NewExclusive(deps.Camera),
		listener: listener,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	listener.OnUnlink(a.teardown)
	a.registerHandlers()
	return a, nil
}

// DeviceID returns the linked identifier, or "".
func (a *Agent) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceID
}

// Listener exposes the command listener.
func (a *Agent) Listener() *Listener {
	return a.listener
}

// Link binds the agent to id and starts listening. Relinking to another id
// stops everything running for the old one first.
func (a *Agent) Link(ctx context.Context, id string) error {
	canonical, err := identifier.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	id = canonical
	if a.listener.State() == StateLinked && a.listener.Target() == id {
		return nil
	}
	if err := a.listener.Unlink(); err != nil {
		a.logger.WithError(err).Warn("unlink before relink failed")
	}
	if err := a.build(id); err != nil {
		return err
	}
	if err := a.listener.Link(ctx, id); err != nil {
		a.teardown(id)
		return err
	}
	return nil
}

// Unlink stops the relay and tracker and releases the subscription.
func (a *Agent) Unlink() error {
	return a.listener.Unlink()
}

// Close is Unlink.
func (a *Agent) Close() error {
	return a.listener.Close()
}

// Run blocks until ctx is done or KILL_APP arrives, then closes the agent.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.kill = cancel
	tracker := a.tracker
	a.mu.Unlock()
	defer cancel()

	if a.cfg.AutoTrack && tracker != nil {
		tracker.Start(ctx, 0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return a.Close()
	})
	return g.Wait()
}

// RaiseSOS writes an SOS intent for the linked device at its current
// position, or the fallback position when no fix is available.
func (a *Agent) RaiseSOS(ctx context.Context, message string) (*intents.Intent, error) {
	deviceID := a.DeviceID()
	if deviceID == "" {
		return nil, ErrNotLinked
	}
	if a.deps.Intents == nil {
		return nil, fmt.Errorf("%w: intents", ErrNotConfigured)
	}
	pos := geo.DefaultFallback
	if a.deps.Location != nil {
		if fix, err := a.deps.Location.Current(ctx); err == nil {
			pos = geo.Point{Lat: fix.Lat, Lng: fix.Lng}
		} else {
			a.logger.WithError(err).Warn("sos without fix: using fallback position")
		}
	}
	payload, err := intents.EncodePayload(&intents.SOS{Lat: pos.Lat, Lng: pos.Lng, Message: message})
	if err != nil {
		return nil, err
	}
	intent, err := a.deps.Intents.Send(auth.WithTenant(ctx, a.cfg.Tenant), intentsapp.SendRequest{
		Target:  deviceID,
		Kind:    intents.KindSOS,
		Payload: payload,
	})
	if err != nil {
		a.logger.WithError(err).WithField("device_id", deviceID).Error("sos failed")
		return nil, err
	}
	a.logger.WithFields(logging.Fields{"device_id": deviceID, "intent_id": intent.ID}).Warn("sos raised")
	return intent, nil
}

// Status builds the current status report.
func (a *Agent) Status(ctx context.Context) (StatusReport, error) {
	a.mu.Lock()
	deviceID, publisher, audio, tracker := a.deviceID, a.publisher, a.audio, a.tracker
	a.mu.Unlock()
	if deviceID == "" {
		return StatusReport{}, ErrNotLinked
	}
	report := StatusReport{
		DeviceID:   deviceID,
		Relay:      relay.StateIdle.String(),
		ReportedAt: a.now().UTC(),
	}
	if publisher != nil {
		report.Relay = publisher.State().String()
		report.Audio = audio && publisher.State() == relay.StateStreaming
	}
	if tracker != nil {
		report.Tracking = tracker.Running()
	}
	if a.deps.Location != nil {
		if fix, err := a.deps.Location.Current(ctx); err == nil {
			report.Lat, report.Lng, report.SpeedKmh = &fix.Lat, &fix.Lng, &fix.SpeedKmh
		}
	}
	if a.deps.Battery != nil {
		if level, err := a.deps.Battery.Level(ctx); err == nil {
			report.Battery = &level
		}
	}
	return report, nil
}

func (a *Agent) build(id string) error {
	publisher, err := a.newPublisher(id, a.deps.Microphone != nil)
	if err != nil {
		return err
	}
	var snapshotter *capture.Snapshotter
	if a.deps.ObjectStore != nil && a.deps.Media != nil {
		opts := []capture.Option{
			capture.WithShared(sharedRelay{a}),
			capture.WithOptions(a.cfg.Capture),
			capture.WithClock(a.now),
			capture.WithLogger(a.logger),
		}
		if a.captureEncoder != nil {
			opts = append(opts, capture.WithEncoder(a.captureEncoder))
		}
		snapshotter, err = capture.NewSnapshotter(id, a.cfg.Tenant, a.camera, a.deps.ObjectStore, a.deps.Media, opts...)
		if err != nil {
			return err
		}
	}
	var tracker *Tracker
	if a.deps.Location != nil && a.deps.Samples != nil {
		opts := []TrackerOption{
			WithTrackInterval(a.cfg.TrackInterval),
			WithTrackerClock(a.now),
			WithTrackerLogger(a.logger),
		}
		if a.deps.Battery != nil {
			opts = append(opts, WithBattery(a.deps.Battery))
		}
		if a.deps.Devices != nil {
			opts = append(opts, WithDeviceToucher(a.deps.Devices))
		}
		if a.deps.Alerts != nil {
			opts = append(opts, WithAlertChecker(a.deps.Alerts))
		}
		if a.deps.Feed != nil {
			opts = append(opts, WithLocationFeed(a.deps.Feed))
		}
		tracker, err = NewTracker(publisher.Target(), a.cfg.Tenant, a.deps.Location, a.deps.Samples, opts...)
		if err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.deviceID = publisher.Target()
	a.publisher, a.audio = publisher, a.deps.Microphone != nil
	a.snapshotter, a.tracker = snapshotter, tracker
	a.mu.Unlock()
	return nil
}

func (a *Agent) newPublisher(id string, audio bool) (*relay.Publisher, error) {
	opts := []relay.PublisherOption{
		relay.WithConfig(a.cfg.Relay),
		relay.WithPublisherLogger(a.logger),
	}
	if audio && a.deps.Microphone != nil {
		opts = append(opts, relay.WithMicrophone(a.deps.Microphone))
	}
	if a.frameEncoder != nil {
		opts = append(opts, relay.WithFrameEncoder(a.frameEncoder))
	}
	return relay.NewPublisher(id, a.deps.Broadcaster, a.camera, opts...)
}

// teardown stops whatever runs for target. It is the listener's unlink hook.
func (a *Agent) teardown(target string) {
	a.mu.Lock()
	if a.deviceID != target {
		a.mu.Unlock()
		return
	}
	publisher, tracker := a.publisher, a.tracker
	a.deviceID, a.publisher, a.snapshotter, a.tracker = "", nil, nil, nil
	a.mu.Unlock()

	if publisher != nil {
		if err := publisher.Stop(); err != nil {
			a.logger.WithError(err).Warn("relay stop failed")
		}
	}
	if tracker != nil {
		tracker.Stop()
	}
}

func (a *Agent) registerHandlers() {
	l := a.listener
	l.Handle(intents.KindCaptureRequest, a.handleCapture)
	l.Handle(intents.KindStartLiveFeed, a.handleStartLiveFeed)
	l.Handle(intents.KindStopLiveFeed, a.handleStopLiveFeed)
	l.Handle(intents.KindStartTracking, a.handleStartTracking)
	l.Handle(intents.KindStopTracking, a.handleStopTracking)
	l.Handle(intents.KindGetStatus, a.handleGetStatus)
	l.Handle(intents.KindDimScreen, func(ctx context.Context, _ intents.Intent, p intents.Payload) error {
		return a.deps.Display.Dim(ctx, p.(*intents.DimScreen).Level)
	})
	l.Handle(intents.KindResetScreen, func(ctx context.Context, _ intents.Intent, _ intents.Payload) error {
		return a.deps.Display.Reset(ctx)
	})
	l.Handle(intents.KindReload, func(ctx context.Context, _ intents.Intent, _ intents.Payload) error {
		return a.deps.Display.Reload(ctx)
	})
	l.Handle(intents.KindStartRide, func(ctx context.Context, _ intents.Intent, p intents.Payload) error {
		return a.deps.Display.ShowRide(ctx, *p.(*intents.StartRide))
	})
	l.Handle(intents.KindCompleteRide, func(ctx context.Context, _ intents.Intent, p intents.Payload) error {
		return a.deps.Display.CompleteRide(ctx, *p.(*intents.CompleteRide))
	})
	l.Handle(intents.KindKillApp, a.handleKill)
}

func (a *Agent) handleCapture(ctx context.Context, _ intents.Intent, _ intents.Payload) error {
	a.mu.Lock()
	snapshotter := a.snapshotter
	a.mu.Unlock()
	if snapshotter == nil {
		return fmt.Errorf("%w: capture", ErrNotConfigured)
	}
	_, err := snapshotter.Capture(ctx)
	return err
}

func (a *Agent) handleStartLiveFeed(ctx context.Context, intent intents.Intent, p intents.Payload) error {
	req := p.(*intents.StartLiveFeed)
	wantAudio := a.deps.Microphone != nil
	if req.WithAudio != nil {
		wantAudio = wantAudio && *req.WithAudio
	}

	a.mu.Lock()
	publisher := a.publisher
	if publisher == nil {
		a.mu.Unlock()
		return ErrNotLinked
	}
	// The microphone is chosen at construction, so an idle publisher is
	// swapped when the requested mode differs.
	if publisher.State() == relay.StateIdle && wantAudio != a.audio {
		swapped, err := a.newPublisher(intent.Target, wantAudio)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		a.publisher, a.audio, publisher = swapped, wantAudio, swapped
	}
	a.mu.Unlock()
	return publisher.Start(ctx)
}

func (a *Agent) handleStopLiveFeed(context.Context, intents.Intent, intents.Payload) error {
	a.mu.Lock()
	publisher := a.publisher
	a.mu.Unlock()
	if publisher == nil {
		return nil
	}
	return publisher.Stop()
}

func (a *Agent) handleStartTracking(ctx context.Context, _ intents.Intent, p intents.Payload) error {
	a.mu.Lock()
	tracker := a.tracker
	a.mu.Unlock()
	if tracker == nil {
		return fmt.Errorf("%w: tracking", ErrNotConfigured)
	}
	tracker.Start(ctx, time.Duration(p.(*intents.StartTracking).IntervalSeconds)*time.Second)
	return nil
}

func (a *Agent) handleStopTracking(context.Context, intents.Intent, intents.Payload) error {
	a.mu.Lock()
	tracker := a.tracker
	a.mu.Unlock()
	if tracker != nil {
		tracker.Stop()
	}
	return nil
}

func (a *Agent) handleGetStatus(ctx context.Context, intent intents.Intent, _ intents.Payload) error {
	report, err := a.Status(ctx)
	if err != nil {
		return err
	}
	return a.deps.Broadcaster.Publish(ctx, StatusChannel(report.DeviceID), EventStatus, report)
}

func (a *Agent) handleKill(context.Context, intents.Intent, intents.Payload) error {
	a.mu.Lock()
	kill := a.kill
	a.mu.Unlock()
	a.logger.Warn("kill requested")
	if kill != nil {
		kill()
		return nil
	}
	return a.Close()
}

// sharedRelay lends the relay's camera to the snapshotter.
type sharedRelay struct{ a *Agent }

func (s sharedRelay) Grab(ctx context.Context) ([]byte, bool, error) {
	s.a.mu.Lock()
	publisher := s.a.publisher
	s.a.mu.Unlock()
	if publisher == nil {
		return nil, false, nil
	}
	return publisher.Grab(ctx)
}
