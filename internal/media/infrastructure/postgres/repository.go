package postgres

import (
	"context"
	"database/sql"
	"errors"

	"fleetguardian/internal/media"
)

// MediaRepository persists snapshot metadata in media_objects.
type MediaRepository struct {
	db *sql.DB
}

// NewMediaRepository constructs a repository.
func NewMediaRepository(db *sql.DB) (*MediaRepository, error) {
	if db == nil {
		return nil, errors.New("media repo: nil db")
	}
	return &MediaRepository{db: db}, nil
}

// Insert writes one row.
func (r *MediaRepository) Insert(ctx context.Context, obj media.MediaObject) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO media_objects (
	id, organization_id, branch_id, device_id, path, url, content_type, size_bytes, captured_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		obj.ID, obj.OrganizationID, obj.BranchID, obj.DeviceID, obj.Path, obj.URL, obj.ContentType, obj.Size, obj.CapturedAt)
	return err
}

// ListByDevice returns the newest snapshots first.
func (r *MediaRepository) ListByDevice(ctx context.Context, organizationID, branchID, deviceID string, limit int) ([]media.MediaObject, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, organization_id, branch_id, device_id, path, url, content_type, size_bytes, captured_at
FROM media_objects
WHERE organization_id = $1 AND branch_id = $2 AND device_id = $3
ORDER BY captured_at DESC
LIMIT $4`, organizationID, branchID, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []media.MediaObject
	for rows.Next() {
		var obj media.MediaObject
		if err := rows.Scan(&obj.ID, &obj.OrganizationID, &obj.BranchID, &obj.DeviceID, &obj.Path, &obj.URL,
			&obj.ContentType, &obj.Size, &obj.CapturedAt); err != nil {
			return nil, err
		}
		obj.CapturedAt = obj.CapturedAt.UTC()
		out = append(out, obj)
	}
	return out, rows.Err()
}
