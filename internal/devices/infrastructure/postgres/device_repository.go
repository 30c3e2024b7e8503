package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "fleetguardian/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const deviceColumns = `id, organization_id, branch_id, plate_number, name, last_seen_at, created_at, updated_at`

// Get loads a device by id. A missing device is nil, nil.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, deviceColumns, r.table)
	return scanDevice(r.db.QueryRowContext(ctx, query, id))
}

// GetByPlate loads the device registered under a normalized plate.
func (r *DeviceRepository) GetByPlate(ctx context.Context, organizationID, branchID, plate string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1 AND branch_id = $2 AND plate_number = $3
LIMIT 1`, deviceColumns, r.table)
	return scanDevice(r.db.QueryRowContext(ctx, query, organizationID, branchID, plate))
}

// ListByTenant loads every device in a branch.
func (r *DeviceRepository) ListByTenant(ctx context.Context, organizationID, branchID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1 AND branch_id = $2
ORDER BY plate_number ASC`, deviceColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, organizationID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a device.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	organization_id,
	branch_id,
	plate_number,
	name
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (id)
DO UPDATE SET
	plate_number = EXCLUDED.plate_number,
	name = EXCLUDED.name,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		device.ID,
		device.OrganizationID,
		device.BranchID,
		device.PlateNumber,
		device.Name,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}

// Touch records that the device reported at at.
func (r *DeviceRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_seen_at = GREATEST(COALESCE(last_seen_at, $2), $2)
WHERE id = $1`, r.table)
	_, err := r.db.ExecContext(ctx, query, id, at.UTC())
	return err
}

// Delete removes the device row within its tenant and reports whether one
// existed. Intents, samples and snapshots keep their history.
func (r *DeviceRepository) Delete(ctx context.Context, organizationID, branchID, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE id = $1 AND organization_id = $2 AND branch_id = $3`, r.table)
	res, err := r.db.ExecContext(ctx, query, id, organizationID, branchID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*devices.Device, error) {
	var device devices.Device
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.OrganizationID,
		&device.BranchID,
		&device.PlateNumber,
		&device.Name,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		device.LastSeenAt = &t
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
