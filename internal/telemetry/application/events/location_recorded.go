package events

import "time"

// LocationRecorded is raised after a sample is stored through ingest.
type LocationRecorded struct {
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	BranchID       string    `json:"branch_id"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	SpeedKmh       float64   `json:"speed"`
	Battery        *float64  `json:"battery,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
