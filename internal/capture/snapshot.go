// Package capture takes one still from the device camera, uploads it and
// records its metadata.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/identifier"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/media"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/sensors"
)

// ErrSensor wraps camera failures.
var ErrSensor = errors.New("capture: camera unavailable")

// SharedCamera lends a camera that is already held, such as the relay's.
// ok is false when nothing is held.
type SharedCamera interface {
	Grab(ctx context.Context) (frame []byte, ok bool, err error)
}

// Options tunes the stored image.
type Options struct {
	Width   int
	Height  int
	Quality int
}

// Snapshotter implements capture-once.
type Snapshotter struct {
	deviceID string
	tenant   auth.Tenant
	camera   sensors.Camera
	shared   SharedCamera
	store    media.ObjectStore
	repo     media.Repository
	opts     Options
	encode   func([]byte) ([]byte, error)
	now      func() time.Time
	logger   logging.Logger
}

// Option configures the snapshotter.
type Option func(*Snapshotter)

// WithShared grabs from an already-held camera when available.
func WithShared(shared SharedCamera) Option {
	return func(s *Snapshotter) {
		s.shared = shared
	}
}

// WithOptions overrides size and quality.
func WithOptions(opts Options) Option {
	return func(s *Snapshotter) {
		if opts.Width > 0 && opts.Height > 0 {
			s.opts.Width, s.opts.Height = opts.Width, opts.Height
		}
		if opts.Quality > 0 {
			s.opts.Quality = opts.Quality
		}
	}
}

// WithEncoder replaces the JPEG re-encoder.
func WithEncoder(encode func([]byte) ([]byte, error)) Option {
	return func(s *Snapshotter) {
		if encode != nil {
			s.encode = encode
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Snapshotter) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Snapshotter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSnapshotter constructs a snapshotter for deviceID within tenant.
func NewSnapshotter(deviceID string, tenant auth.Tenant, camera sensors.Camera, store media.ObjectStore, repo media.Repository, opts ...Option) (*Snapshotter, error) {
	deviceID, err := identifier.Parse(deviceID)
	if err != nil {
		return nil, err
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if camera == nil || store == nil || repo == nil {
		return nil, errors.New("capture: camera, store and repo required")
	}
	s := &Snapshotter{
		deviceID: deviceID,
		tenant:   tenant,
		camera:   camera,
		store:    store,
		repo:     repo,
		opts:     Options{Width: 640, Height: 480, Quality: 30},
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.encode == nil {
		o := s.opts
		s.encode = func(raw []byte) ([]byte, error) {
			return sensors.Reencode(raw, o.Width, o.Height, o.Quality)
		}
	}
	return s, nil
}

// Capture grabs one frame, uploads it and then writes its metadata row.
// The row is never written when the upload fails. Nothing is retried.
func (s *Snapshotter) Capture(ctx context.Context) (*media.MediaObject, error) {
	start := time.Now()
	obj, err := s.capture(ctx)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		s.logger.WithError(err).WithField("device_id", s.deviceID).Warn("snapshot failed")
	}
	metrics.ObserveSnapshot(result, time.Since(start))
	return obj, err
}

func (s *Snapshotter) capture(ctx context.Context) (*media.MediaObject, error) {
	raw, err := s.grab(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := s.encode(raw)
	if err != nil {
		return nil, fmt.Errorf("capture: encode: %w", err)
	}

	at := s.now().UTC()
	path := media.SnapshotPath(s.deviceID, at)
	if err := s.store.Upload(ctx, path, "image/jpeg", encoded); err != nil {
		return nil, err
	}

	obj := media.MediaObject{
		ID:             identifier.New(),
		DeviceID:       s.deviceID,
		OrganizationID: s.tenant.OrganizationID,
		BranchID:       s.tenant.BranchID,
		Path:           path,
		URL:            s.store.PublicURL(path),
		ContentType:    "image/jpeg",
		Size:           int64(len(encoded)),
		CapturedAt:     at,
	}
	if err := s.repo.Insert(ctx, obj); err != nil {
		return nil, fmt.Errorf("capture: record metadata: %w", err)
	}
	s.logger.WithFields(logging.Fields{
		"device_id": s.deviceID,
		"path":      path,
		"size":      obj.Size,
	}).Info("snapshot stored")
	return &obj, nil
}

// grab borrows the held camera if there is one, otherwise opens the camera
// for exactly one frame and releases it before returning.
func (s *Snapshotter) grab(ctx context.Context) ([]byte, error) {
	if s.shared != nil {
		frame, ok, err := s.shared.Grab(ctx)
		if ok {
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSensor, err)
			}
			return frame, nil
		}
	}
	handle, err := s.camera.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensor, err)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			s.logger.WithError(cerr).Warn("camera release failed")
		}
	}()
	frame, err := handle.Grab(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensor, err)
	}
	return frame, nil
}
