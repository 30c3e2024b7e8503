package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "fleetguardian/internal/alarms/domain"
)

const defaultAlertStatesTable = "alert_states"

// AlertStateRepository stores which rules are raised per device, so a
// restarted server does not raise them again.
type AlertStateRepository struct {
	db    *sql.DB
	table string
}

// NewAlertStateRepository constructs a repository.
func NewAlertStateRepository(db *sql.DB) *AlertStateRepository {
	return &AlertStateRepository{db: db, table: defaultAlertStatesTable}
}

// Get fetches a raised rule state.
func (r *AlertStateRepository) Get(ctx context.Context, deviceID, code string) (*alarms.State, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert state repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT device_id, code, active_since, last_value, updated_at
FROM %s
WHERE device_id = $1 AND code = $2`, r.table), deviceID, code)

	var state alarms.State
	var lastValue sql.NullFloat64
	if err := row.Scan(
		&state.DeviceID,
		&state.Code,
		&state.ActiveSince,
		&lastValue,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	state.ActiveSince = state.ActiveSince.UTC()
	state.UpdatedAt = state.UpdatedAt.UTC()
	if lastValue.Valid {
		state.LastValue = lastValue.Float64
	}
	return &state, nil
}

// Upsert inserts or updates a raised rule state.
func (r *AlertStateRepository) Upsert(ctx context.Context, state *alarms.State) error {
	if r == nil || r.db == nil {
		return errors.New("alert state repo: nil db")
	}
	if state == nil {
		return errors.New("alert state repo: nil state")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	device_id, code, active_since, last_value, updated_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (device_id, code)
DO UPDATE SET
	last_value = EXCLUDED.last_value,
	updated_at = EXCLUDED.updated_at`, r.table),
		state.DeviceID,
		state.Code,
		state.ActiveSince.UTC(),
		sql.NullFloat64{Float64: state.LastValue, Valid: true},
		state.UpdatedAt.UTC(),
	)
	return err
}

// Clear re-arms a rule for a device.
func (r *AlertStateRepository) Clear(ctx context.Context, deviceID, code string) error {
	if r == nil || r.db == nil {
		return errors.New("alert state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE device_id = $1 AND code = $2`, r.table), deviceID, code)
	return err
}
