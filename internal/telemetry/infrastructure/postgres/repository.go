package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/telemetry/domain"
)

const defaultLocationTable = "location_samples"

// LocationRepository is the Postgres store for location samples.
type LocationRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*LocationRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *LocationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewLocationRepository constructs a repository with default table name.
func NewLocationRepository(db *sql.DB, opts ...RepositoryOption) *LocationRepository {
	repo := &LocationRepository{db: db, table: defaultLocationTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts samples in one transaction. Samples are never updated.
func (r *LocationRepository) Append(ctx context.Context, samples ...telemetry.LocationSample) error {
	if r == nil || r.db == nil {
		return errors.New("location repo: nil db")
	}
	if len(samples) == 0 {
		return nil
	}
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	organization_id,
	branch_id,
	device_id,
	lat,
	lng,
	speed_kmh,
	heading,
	battery,
	sampled_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		battery := sql.NullFloat64{}
		if s.Battery != nil {
			battery = sql.NullFloat64{Float64: *s.Battery, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			s.OrganizationID,
			s.BranchID,
			s.DeviceID,
			s.Lat,
			s.Lng,
			s.SpeedKmh,
			s.Heading,
			battery,
			s.SampledAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for range samples {
		metrics.IncLocationSample()
	}
	return nil
}

const selectColumns = `device_id, organization_id, branch_id, lat, lng, speed_kmh, heading, battery, sampled_at`

// Latest returns the newest sample for a device or nil.
func (r *LocationRepository) Latest(ctx context.Context, organizationID, branchID, deviceID string) (*telemetry.LocationSample, error) {
	list, err := r.History(ctx, organizationID, branchID, deviceID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// History returns the newest samples first.
func (r *LocationRepository) History(ctx context.Context, organizationID, branchID, deviceID string, limit int) ([]telemetry.LocationSample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}
	if limit <= 0 {
		limit = telemetry.DefaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1
	AND branch_id = $2
	AND device_id = $3
ORDER BY sampled_at DESC
LIMIT $4`, selectColumns, r.table), organizationID, branchID, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

// LatestPerDevice returns the newest sample of every device in a branch.
func (r *LocationRepository) LatestPerDevice(ctx context.Context, organizationID, branchID string) (map[string]telemetry.LocationSample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT DISTINCT ON (device_id) %s
FROM %s
WHERE organization_id = $1
	AND branch_id = $2
ORDER BY device_id, sampled_at DESC`, selectColumns, r.table), organizationID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]telemetry.LocationSample, len(list))
	for _, s := range list {
		out[s.DeviceID] = s
	}
	return out, nil
}

func scanSamples(rows *sql.Rows) ([]telemetry.LocationSample, error) {
	var out []telemetry.LocationSample
	for rows.Next() {
		var s telemetry.LocationSample
		var battery sql.NullFloat64
		if err := rows.Scan(&s.DeviceID, &s.OrganizationID, &s.BranchID, &s.Lat, &s.Lng, &s.SpeedKmh, &s.Heading, &battery, &s.SampledAt); err != nil {
			return nil, err
		}
		if battery.Valid {
			v := battery.Float64
			s.Battery = &v
		}
		s.SampledAt = s.SampledAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
