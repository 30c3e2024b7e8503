package application

import (
	"context"
	"time"

	intentevents "fleetguardian/internal/intents/application/events"
	intents "fleetguardian/internal/intents/domain"
)

// Alert event types.
const (
	EventRaised       = "raised"
	EventAcknowledged = "acknowledged"
)

// AlertNotifier receives alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent is what the dashboard stream and webhook see for SOS and ALERT
// intents.
type AlertEvent struct {
	Type           string    `json:"type"`
	IntentID       string    `json:"intent_id,omitempty"`
	Kind           string    `json:"kind"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	BranchID       string    `json:"branch_id"`
	Code           string    `json:"code,omitempty"`
	Message        string    `json:"message,omitempty"`
	Value          *float64  `json:"value,omitempty"`
	Lat            *float64  `json:"lat,omitempty"`
	Lng            *float64  `json:"lng,omitempty"`
	At             time.Time `json:"at"`
}

// FromIntentIssued converts SOS and ALERT intents; other kinds return false.
func FromIntentIssued(evt intentevents.IntentIssued) (AlertEvent, bool) {
	kind := intents.Kind(evt.Kind)
	if kind != intents.KindSOS && kind != intents.KindAlert {
		return AlertEvent{}, false
	}
	out := AlertEvent{
		Type:           EventRaised,
		IntentID:       evt.IntentID,
		Kind:           evt.Kind,
		DeviceID:       evt.Target,
		OrganizationID: evt.OrganizationID,
		BranchID:       evt.BranchID,
		At:             evt.CreatedAt,
	}
	payload, err := intents.DecodePayload(kind, evt.Payload)
	if err != nil {
		return out, true
	}
	switch p := payload.(type) {
	case *intents.SOS:
		lat, lng := p.Lat, p.Lng
		out.Code = string(intents.KindSOS)
		out.Message = p.Message
		out.Lat, out.Lng = &lat, &lng
	case *intents.Alert:
		value := p.Value
		out.Code = string(p.Type)
		out.Message = p.Message
		out.Value = &value
		out.Lat, out.Lng = p.Lat, p.Lng
	}
	return out, true
}

// FromSOSAcknowledged converts an acknowledgement.
func FromSOSAcknowledged(evt intentevents.SOSAcknowledged) AlertEvent {
	count := float64(evt.Count)
	return AlertEvent{
		Type:           EventAcknowledged,
		Kind:           string(intents.KindSOS),
		DeviceID:       evt.Target,
		OrganizationID: evt.OrganizationID,
		BranchID:       evt.BranchID,
		Code:           string(intents.KindSOS),
		Value:          &count,
		Message:        evt.AcknowledgedBy,
		At:             evt.OccurredAt,
	}
}
