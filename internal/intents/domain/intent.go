package intents

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names an intent.
type Kind string

const (
	KindCaptureRequest Kind = "CAPTURE_REQUEST"
	KindStartLiveFeed  Kind = "START_LIVE_FEED"
	KindStopLiveFeed   Kind = "STOP_LIVE_FEED"
	KindStartTracking  Kind = "START_TRACKING"
	KindStopTracking   Kind = "STOP_TRACKING"
	KindReload         Kind = "RELOAD"
	KindKillApp        Kind = "KILL_APP"
	KindDimScreen      Kind = "DIM_SCREEN"
	KindResetScreen    Kind = "RESET_SCREEN"
	KindGetStatus      Kind = "GET_STATUS"
	KindStartRide      Kind = "START_RIDE"
	KindCompleteRide   Kind = "COMPLETE_RIDE"
	KindSOS            Kind = "SOS"
	KindAlert          Kind = "ALERT"
)

var (
	// ErrUnknownKind is returned for kinds outside the enumeration.
	ErrUnknownKind = errors.New("intents: unknown kind")
	// ErrInvalidPayload is returned when a payload does not fit its kind.
	ErrInvalidPayload = errors.New("intents: invalid payload")
	// ErrDuplicateKey is returned when another intent already holds the
	// idempotency key inside the window.
	ErrDuplicateKey = errors.New("intents: idempotency key in use")
)

// IdempotencyWindow is how long an idempotency key maps to its first intent.
const IdempotencyWindow = 10 * time.Minute

// Kinds lists every known kind.
func Kinds() []Kind {
	return []Kind{
		KindCaptureRequest, KindStartLiveFeed, KindStopLiveFeed,
		KindStartTracking, KindStopTracking, KindReload, KindKillApp,
		KindDimScreen, KindResetScreen, KindGetStatus, KindStartRide,
		KindCompleteRide, KindSOS, KindAlert,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := payloadFactories[k]
	return ok
}

// Intent is a command record addressed to one device. Intents are
// append-only; only SOS intents are ever updated, when acknowledged.
type Intent struct {
	ID             string          `json:"id"`
	Target         string          `json:"target"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OrganizationID string          `json:"organization_id"`
	BranchID       string          `json:"branch_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
}

// Decode returns the typed payload for the intent's kind.
func (i Intent) Decode() (Payload, error) {
	return DecodePayload(i.Kind, i.Payload)
}

// Validate checks the structural fields. Identifier shape is the caller's
// concern.
func (i Intent) Validate() error {
	if i.ID == "" {
		return errors.New("intents: empty id")
	}
	if i.Target == "" {
		return errors.New("intents: empty target")
	}
	if !i.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, i.Kind)
	}
	if i.OrganizationID == "" || i.BranchID == "" {
		return errors.New("intents: empty tenant")
	}
	return nil
}
