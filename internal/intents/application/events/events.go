package events

import (
	"encoding/json"
	"time"
)

// IntentIssued is emitted, through the outbox, when an intent is written.
type IntentIssued struct {
	IntentID       string          `json:"intent_id"`
	Target         string          `json:"target"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	OrganizationID string          `json:"organization_id"`
	BranchID       string          `json:"branch_id"`
	CreatedAt      time.Time       `json:"created_at"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// SOSAcknowledged is emitted when an operator clears a device's open SOS.
type SOSAcknowledged struct {
	Target         string    `json:"target"`
	OrganizationID string    `json:"organization_id"`
	BranchID       string    `json:"branch_id"`
	Count          int64     `json:"count"`
	AcknowledgedBy string    `json:"acknowledged_by"`
	OccurredAt     time.Time `json:"occurred_at"`
}
