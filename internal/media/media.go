// Package media holds captured snapshot metadata and the object storage
// contract they are uploaded through.
package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrUpload wraps object storage failures.
var ErrUpload = errors.New("media: upload failed")

// MediaObject references one stored snapshot.
type MediaObject struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	OrganizationID string    `json:"organization_id"`
	BranchID       string    `json:"branch_id"`
	Path           string    `json:"path"`
	URL            string    `json:"url"`
	ContentType    string    `json:"content_type"`
	Size           int64     `json:"size"`
	CapturedAt     time.Time `json:"captured_at"`
}

// ObjectStore uploads bytes and reports where they can be fetched.
type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	PublicURL(path string) string
}

// Repository persists snapshot metadata.
type Repository interface {
	Insert(ctx context.Context, obj MediaObject) error
	ListByDevice(ctx context.Context, organizationID, branchID, deviceID string, limit int) ([]MediaObject, error)
}

// SnapshotPath returns "<deviceID>/<unixMillis>-<rand>.jpg".
func SnapshotPath(deviceID string, at time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s/%d-%s.jpg", deviceID, at.UnixMilli(), hex.EncodeToString(buf))
}
