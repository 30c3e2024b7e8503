package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/eventing"
	"fleetguardian/internal/geo"
	"fleetguardian/internal/identifier"
	intentevents "fleetguardian/internal/intents/application/events"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
)

// ErrInvalidTarget is returned when the target is not a canonical identifier.
var ErrInvalidTarget = errors.New("intents: invalid target")

// Repository persists intents together with their outbox event.
type Repository interface {
	Create(ctx context.Context, intent *intents.Intent, env eventing.Envelope) error
	FindByIdempotencyKey(ctx context.Context, organizationID, key string, since time.Time) (*intents.Intent, error)
	ListByTarget(ctx context.Context, organizationID, branchID, target string, limit int) ([]intents.Intent, error)
	AcknowledgeSOS(ctx context.Context, organizationID, branchID, target string, at time.Time) (int64, error)
}

// Locator resolves addresses, falling back instead of failing.
type Locator interface {
	Locate(ctx context.Context, address string) (geo.Point, bool)
}

// SendRequest is one intent to write.
type SendRequest struct {
	Target         string          `json:"target"`
	Kind           intents.Kind    `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Service writes intents. Every write is attempted once.
type Service struct {
	repo           Repository
	locator        Locator
	publisher      eventing.Publisher
	devices        auth.DeviceTenantChecker
	logger         logging.Logger
	idempotencyTTL time.Duration
	now            func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithLocator enables START_RIDE geocoding.
func WithLocator(locator Locator) Option {
	return func(s *Service) {
		s.locator = locator
	}
}

// WithDeviceChecker verifies target ownership before writing.
func WithDeviceChecker(checker auth.DeviceTenantChecker) Option {
	return func(s *Service) {
		s.devices = checker
	}
}

// WithEventPublisher sets where non-transactional events (SOS
// acknowledgements) go.
func WithEventPublisher(publisher eventing.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs an intent service.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("intents: nil repo")
	}
	s := &Service{
		repo:           repo,
		logger:         logging.Discard(),
		idempotencyTTL: intents.IdempotencyWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locator == nil {
		s.locator = geo.NewResolver(nil)
	}
	return s, nil
}

// Send validates, enriches and writes one intent, then returns it. A
// malformed target or missing tenant fails before any backend call.
func (s *Service) Send(ctx context.Context, req SendRequest) (*intents.Intent, error) {
	target, err := identifier.Parse(req.Target)
	if err != nil {
		s.logger.WithField("target", req.Target).Warn("intent rejected: invalid target")
		metrics.IncIntentSent(string(req.Kind), "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if !req.Kind.Valid() {
		metrics.IncIntentSent("unknown", "invalid")
		return nil, fmt.Errorf("%w: %q", intents.ErrUnknownKind, req.Kind)
	}
	tenant, err := auth.TenantFromContext(ctx)
	if err != nil {
		metrics.IncIntentSent(string(req.Kind), "invalid")
		return nil, err
	}
	payload, err := intents.DecodePayload(req.Kind, req.Payload)
	if err != nil {
		metrics.IncIntentSent(string(req.Kind), "invalid")
		return nil, err
	}
	if s.devices != nil {
		if err := s.devices.EnsureDeviceTenant(ctx, tenant, target); err != nil {
			metrics.IncIntentSent(string(req.Kind), "rejected")
			return nil, err
		}
	}

	now := s.now().UTC()
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tenant.OrganizationID, key, now.Add(-s.idempotencyTTL))
		if err != nil {
			metrics.IncIntentSent(string(req.Kind), metrics.ResultError)
			return nil, err
		}
		if existing != nil {
			metrics.IncIntentSent(string(req.Kind), "duplicate")
			return existing, nil
		}
	}

	if ride, ok := payload.(*intents.StartRide); ok {
		s.enrichRide(ctx, ride)
	}
	raw, err := intents.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	intent := &intents.Intent{
		ID:             identifier.New(),
		Target:         target,
		Kind:           req.Kind,
		Payload:        raw,
		OrganizationID: tenant.OrganizationID,
		BranchID:       tenant.BranchID,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	env, err := eventing.BuildEnvelope(intentevents.IntentIssued{
		IntentID:       intent.ID,
		Target:         intent.Target,
		Kind:           string(intent.Kind),
		Payload:        intent.Payload,
		OrganizationID: intent.OrganizationID,
		BranchID:       intent.BranchID,
		CreatedAt:      now,
		OccurredAt:     now,
	}, eventing.Meta{EventID: intent.ID})
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, intent, env); err != nil {
		if key != "" && errors.Is(err, intents.ErrDuplicateKey) {
			// A concurrent retry won the insert.
			existing, ferr := s.repo.FindByIdempotencyKey(ctx, tenant.OrganizationID, key, now.Add(-s.idempotencyTTL))
			if ferr == nil && existing != nil {
				metrics.IncIntentSent(string(req.Kind), "duplicate")
				return existing, nil
			}
		}
		metrics.IncIntentSent(string(req.Kind), metrics.ResultError)
		s.logger.WithError(err).WithFields(logging.Fields{
			"target": target,
			"kind":   req.Kind,
		}).Error("intent write failed")
		return nil, err
	}
	metrics.IncIntentSent(string(req.Kind), metrics.ResultSuccess)
	return intent, nil
}

// List returns recent intents for a device in the caller's tenant.
func (s *Service) List(ctx context.Context, target string, limit int) ([]intents.Intent, error) {
	target, err := identifier.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	tenant, err := auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByTarget(ctx, tenant.OrganizationID, tenant.BranchID, target, limit)
}

// AcknowledgeSOS clears open SOS intents for a device and reports how many
// were cleared.
func (s *Service) AcknowledgeSOS(ctx context.Context, target string) (int64, error) {
	target, err := identifier.Parse(target)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	tenant, err := auth.TenantFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if s.devices != nil {
		if err := s.devices.EnsureDeviceTenant(ctx, tenant, target); err != nil {
			return 0, err
		}
	}
	now := s.now().UTC()
	count, err := s.repo.AcknowledgeSOS(ctx, tenant.OrganizationID, tenant.BranchID, target, now)
	if err != nil {
		return 0, err
	}
	if count > 0 && s.publisher != nil {
		event := intentevents.SOSAcknowledged{
			Target:         target,
			OrganizationID: tenant.OrganizationID,
			BranchID:       tenant.BranchID,
			Count:          count,
			AcknowledgedBy: auth.SubjectFromContext(ctx),
			OccurredAt:     now,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WithError(err).WithField("target", target).Warn("sos acknowledged event not published")
		}
	}
	return count, nil
}

func (s *Service) enrichRide(ctx context.Context, ride *intents.StartRide) {
	ride.Geocoded = true
	for _, place := range []*intents.Place{&ride.Pickup, &ride.Dropoff} {
		if place.Resolved() {
			continue
		}
		point, ok := s.locator.Locate(ctx, place.Address)
		if !ok {
			ride.Geocoded = false
		}
		lat, lng := point.Lat, point.Lng
		place.Lat, place.Lng = &lat, &lng
	}
}
