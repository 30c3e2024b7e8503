package intents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the typed body of one intent kind.
type Payload interface {
	Kind() Kind
	Validate() error
}

var payloadFactories = map[Kind]func() Payload{
	KindCaptureRequest: func() Payload { return &CaptureRequest{} },
	KindStartLiveFeed:  func() Payload { return &StartLiveFeed{} },
	KindStopLiveFeed:   func() Payload { return &StopLiveFeed{} },
	KindStartTracking:  func() Payload { return &StartTracking{} },
	KindStopTracking:   func() Payload { return &StopTracking{} },
	KindReload:         func() Payload { return &Reload{} },
	KindKillApp:        func() Payload { return &KillApp{} },
	KindDimScreen:      func() Payload { return &DimScreen{} },
	KindResetScreen:    func() Payload { return &ResetScreen{} },
	KindGetStatus:      func() Payload { return &GetStatus{} },
	KindStartRide:      func() Payload { return &StartRide{} },
	KindCompleteRide:   func() Payload { return &CompleteRide{} },
	KindSOS:            func() Payload { return &SOS{} },
	KindAlert:          func() Payload { return &Alert{} },
}

// DecodePayload decodes raw into the payload type for kind and validates it.
// Empty or null raw decodes to the zero payload.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	factory, ok := payloadFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	payload := factory()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	return payload, nil
}

// EncodePayload marshals p.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(p)
}

type empty struct{}

func (empty) Validate() error { return nil }

// CaptureRequest asks for one snapshot.
type CaptureRequest struct{ empty }

// StartLiveFeed starts the relay.
type StartLiveFeed struct {
	empty
	WithAudio *bool `json:"with_audio,omitempty"`
}

// StopLiveFeed stops the relay.
type StopLiveFeed struct{ empty }

// MaxTrackingIntervalSeconds bounds StartTracking.IntervalSeconds to one day.
const MaxTrackingIntervalSeconds = 86400

// StartTracking starts location reporting.
type StartTracking struct {
	IntervalSeconds int `json:"interval_seconds,omitempty"`
}

// StopTracking stops location reporting.
type StopTracking struct{ empty }

// Reload asks the device app to restart its session.
type Reload struct{ empty }

// KillApp asks the device app to exit.
type KillApp struct{ empty }

// DimScreen lowers display brightness to Level (0..1).
type DimScreen struct {
	Level float64 `json:"level"`
}

// ResetScreen restores display brightness.
type ResetScreen struct{ empty }

// GetStatus asks the device to report its current state.
type GetStatus struct{ empty }

// Place is an address with optional resolved coordinates.
type Place struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Resolved reports whether coordinates are present.
func (p Place) Resolved() bool {
	return p.Lat != nil && p.Lng != nil
}

// StartRide dispatches a ride to the vehicle.
type StartRide struct {
	RideID        string `json:"ride_id,omitempty"`
	Pickup        Place  `json:"pickup"`
	Dropoff       Place  `json:"dropoff"`
	PassengerName string `json:"passenger_name,omitempty"`
	Notes         string `json:"notes,omitempty"`
	// Geocoded is false when either place was filled from the fallback.
	Geocoded bool `json:"geocoded"`
}

// CompleteRide closes a ride.
type CompleteRide struct {
	RideID string `json:"ride_id,omitempty"`
}

// SOS is raised by the driver.
type SOS struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Message string  `json:"message,omitempty"`
}

// AlertType names an automatic alert.
type AlertType string

const (
	AlertLowBattery     AlertType = "LOW_BATTERY"
	AlertSpeedViolation AlertType = "SPEED_VIOLATION"
	AlertGeofence       AlertType = "GEOFENCE"
)

// Alert is raised by a device-side rule.
type Alert struct {
	Type    AlertType `json:"type"`
	Message string    `json:"message,omitempty"`
	Value   float64   `json:"value"`
	Lat     *float64  `json:"lat,omitempty"`
	Lng     *float64  `json:"lng,omitempty"`
}

func (CaptureRequest) Kind() Kind { return KindCaptureRequest }
func (StartLiveFeed) Kind() Kind  { return KindStartLiveFeed }
func (StopLiveFeed) Kind() Kind   { return KindStopLiveFeed }
func (StartTracking) Kind() Kind  { return KindStartTracking }
func (StopTracking) Kind() Kind   { return KindStopTracking }
func (Reload) Kind() Kind         { return KindReload }
func (KillApp) Kind() Kind        { return KindKillApp }
func (DimScreen) Kind() Kind      { return KindDimScreen }
func (ResetScreen) Kind() Kind    { return KindResetScreen }
func (GetStatus) Kind() Kind      { return KindGetStatus }
func (StartRide) Kind() Kind      { return KindStartRide }
func (CompleteRide) Kind() Kind   { return KindCompleteRide }
func (SOS) Kind() Kind            { return KindSOS }
func (Alert) Kind() Kind          { return KindAlert }

// Validate checks the interval is within [0, one day].
func (p StartTracking) Validate() error {
	if p.IntervalSeconds < 0 || p.IntervalSeconds > MaxTrackingIntervalSeconds {
		return fmt.Errorf("interval_seconds must be within [0,%d]", MaxTrackingIntervalSeconds)
	}
	return nil
}

// Validate checks the level bounds.
func (p DimScreen) Validate() error {
	if p.Level < 0 || p.Level > 1 {
		return fmt.Errorf("level must be within [0,1]")
	}
	return nil
}

// Validate requires both addresses.
func (p StartRide) Validate() error {
	if strings.TrimSpace(p.Pickup.Address) == "" && !p.Pickup.Resolved() {
		return fmt.Errorf("pickup required")
	}
	if strings.TrimSpace(p.Dropoff.Address) == "" && !p.Dropoff.Resolved() {
		return fmt.Errorf("dropoff required")
	}
	return nil
}

// Validate is a no-op; a ride may be completed without an id.
func (p CompleteRide) Validate() error { return nil }

// Validate checks coordinate bounds.
func (p SOS) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("coordinate out of range")
	}
	return nil
}

// Validate requires a type.
func (p Alert) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("alert type required")
	}
	return nil
}
