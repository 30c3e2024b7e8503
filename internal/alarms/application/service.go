package application

import (
	"context"
	"errors"
	"sync"
	"time"

	alarms "fleetguardian/internal/alarms/domain"
	"fleetguardian/internal/auth"
	intentsapp "fleetguardian/internal/intents/application"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	telemetryevents "fleetguardian/internal/telemetry/application/events"
)

// Sender writes intents; the intents service satisfies it.
type Sender interface {
	Send(ctx context.Context, req intentsapp.SendRequest) (*intents.Intent, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates samples against alert rules and raises ALERT intents on
// the rising edge only.
type Service struct {
	rules  []alarms.Rule
	states alarms.StateStore
	sender Sender
	clock  Clock
	logger logging.Logger
	mu     sync.Mutex
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger logging.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an alarm service.
func NewService(rules []alarms.Rule, states alarms.StateStore, sender Sender, opts ...ServiceOption) (*Service, error) {
	if states == nil {
		return nil, errors.New("alarms: nil state store")
	}
	if sender == nil {
		return nil, errors.New("alarms: nil sender")
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	service := &Service{
		rules:  rules,
		states: states,
		sender: sender,
		clock:  systemClock{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleLocationRecorded evaluates an ingested sample.
func (s *Service) HandleLocationRecorded(ctx context.Context, evt telemetryevents.LocationRecorded) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	tenant, err := auth.NewTenant(evt.OrganizationID, evt.BranchID)
	if err != nil {
		return err
	}
	_, err = s.Check(ctx, tenant, alarms.Sample{
		DeviceID: evt.DeviceID,
		Lat:      evt.Lat,
		Lng:      evt.Lng,
		SpeedKmh: evt.SpeedKmh,
		Battery:  evt.Battery,
		At:       evt.OccurredAt,
	})
	return err
}

// Check evaluates one sample for a device of tenant and returns the intents
// raised. A rule that is already raised stays quiet until the value clears.
func (s *Service) Check(ctx context.Context, tenant auth.Tenant, sample alarms.Sample) ([]intents.Intent, error) {
	if sample.DeviceID == "" {
		return nil, errors.New("alarms: sample missing device")
	}
	at := sample.At
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var raised []intents.Intent
	for _, rule := range s.rules {
		value, ok := sample.Value(rule.Metric)
		if !ok {
			continue
		}
		state, err := s.states.Get(ctx, sample.DeviceID, rule.Code)
		if err != nil {
			return raised, err
		}
		if state != nil {
			if rule.Clears(value) {
				if err := s.states.Clear(ctx, sample.DeviceID, rule.Code); err != nil {
					return raised, err
				}
				continue
			}
			state.LastValue = value
			state.UpdatedAt = s.clock.Now().UTC()
			if err := s.states.Upsert(ctx, state); err != nil {
				return raised, err
			}
			continue
		}
		if !rule.Triggers(value) {
			continue
		}

		intent, err := s.raise(ctx, tenant, rule, sample, value)
		if err != nil {
			return raised, err
		}
		if err := s.states.Upsert(ctx, &alarms.State{
			DeviceID:    sample.DeviceID,
			Code:        rule.Code,
			ActiveSince: at.UTC(),
			LastValue:   value,
			UpdatedAt:   s.clock.Now().UTC(),
		}); err != nil {
			return raised, err
		}
		raised = append(raised, *intent)
	}
	return raised, nil
}

func (s *Service) raise(ctx context.Context, tenant auth.Tenant, rule alarms.Rule, sample alarms.Sample, value float64) (*intents.Intent, error) {
	lat, lng := sample.Lat, sample.Lng
	payload, err := intents.EncodePayload(&intents.Alert{
		Type:    intents.AlertType(rule.Code),
		Message: rule.Message,
		Value:   value,
		Lat:     &lat,
		Lng:     &lng,
	})
	if err != nil {
		return nil, err
	}
	intent, err := s.sender.Send(auth.WithTenant(ctx, tenant), intentsapp.SendRequest{
		Target:  sample.DeviceID,
		Kind:    intents.KindAlert,
		Payload: payload,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logging.Fields{
			"device_id": sample.DeviceID,
			"code":      rule.Code,
		}).Error("alert raise failed")
		return nil, err
	}
	metrics.IncAlert(rule.Code)
	s.logger.WithFields(logging.Fields{
		"device_id": sample.DeviceID,
		"code":      rule.Code,
		"value":     value,
	}).Info("alert raised")
	return intent, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
