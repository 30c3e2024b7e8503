package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/telemetry/domain"
)

const (
	device = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
	org    = "11111111-1111-4111-8111-111111111111"
	branch = "22222222-2222-4222-8222-222222222222"
)

func sample(at time.Time) telemetry.LocationSample {
	battery := 55.0
	return telemetry.LocationSample{
		DeviceID: device, OrganizationID: org, BranchID: branch,
		Lat: 6.5, Lng: 3.3, SpeedKmh: 42, Heading: 90, Battery: &battery, SampledAt: at,
	}
}

func TestAppendInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO location_samples")
	prep.ExpectExec().
		WithArgs(org, branch, device, 6.5, 3.3, 42.0, 90.0, 55.0, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(org, branch, device, 6.5, 3.3, 42.0, 90.0, 55.0, at.Add(time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewLocationRepository(db)
	require.NoError(t, repo.Append(context.Background(), sample(at), sample(at.Add(time.Second))))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRejectsInvalidBeforeDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bad := sample(time.Now())
	bad.DeviceID = "not-a-device"
	err = NewLocationRepository(db).Append(context.Background(), bad)
	assert.ErrorIs(t, err, telemetry.ErrInvalidSample)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryDefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"device_id", "organization_id", "branch_id", "lat", "lng", "speed_kmh", "heading", "battery", "sampled_at"}).
		AddRow(device, org, branch, 6.5, 3.3, 42.0, 90.0, nil, at)
	mock.ExpectQuery("ORDER BY sampled_at DESC").
		WithArgs(org, branch, device, telemetry.DefaultHistoryLimit).
		WillReturnRows(rows)

	list, err := NewLocationRepository(db).History(context.Background(), org, branch, device, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Battery)
	assert.Equal(t, at, list[0].SampledAt)
}

func TestLatestPerDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"device_id", "organization_id", "branch_id", "lat", "lng", "speed_kmh", "heading", "battery", "sampled_at"}).
		AddRow(device, org, branch, 6.5, 3.3, 0.0, 0.0, 80.0, at)
	mock.ExpectQuery("DISTINCT ON \\(device_id\\)").WithArgs(org, branch).WillReturnRows(rows)

	latest, err := NewLocationRepository(db).LatestPerDevice(context.Background(), org, branch)
	require.NoError(t, err)
	require.Contains(t, latest, device)
	assert.InDelta(t, 80.0, *latest[device].Battery, 1e-9)
}

func TestLatestNone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"device_id"}))
	got, err := NewLocationRepository(db).Latest(context.Background(), org, branch, device)
	require.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrConnDone)
	_, err = NewLocationRepository(db).Latest(context.Background(), org, branch, device)
	assert.Error(t, err)
}
