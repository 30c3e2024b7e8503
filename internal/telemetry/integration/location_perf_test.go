package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetguardian/internal/identifier"
	telemetry "fleetguardian/internal/telemetry/domain"
	telemetrypostgres "fleetguardian/internal/telemetry/infrastructure/postgres"
)

func TestLocationPerf_7dAppend_HistoryAndFleet(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "location_samples") {
		t.Skip("location_samples missing; run migrations")
	}

	ctx := context.Background()
	orgID := identifier.New()
	branchID := identifier.New()
	devices := []string{identifier.New(), identifier.New(), identifier.New()}
	defer func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM location_samples WHERE organization_id = $1`, orgID)
	}()

	repo := telemetrypostgres.NewLocationRepository(db)
	start := time.Now().UTC().AddDate(0, 0, -7).Truncate(time.Hour)

	insertStart := time.Now()
	for _, deviceID := range devices {
		for day := 0; day < 7; day++ {
			samples := make([]telemetry.LocationSample, 0, 24*6)
			for i := 0; i < 24*6; i++ {
				samples = append(samples, telemetry.LocationSample{
					DeviceID:       deviceID,
					OrganizationID: orgID,
					BranchID:       branchID,
					Lat:            6.45 + float64(i)*0.0001,
					Lng:            3.4 + float64(day)*0.0001,
					SpeedKmh:       float64(i % 80),
					Heading:        float64(i % 360),
					SampledAt:      start.AddDate(0, 0, day).Add(time.Duration(i) * 10 * time.Minute),
				})
			}
			if err := repo.Append(ctx, samples...); err != nil {
				t.Fatalf("append samples: %v", err)
			}
		}
	}
	insertElapsed := time.Since(insertStart)

	historyStart := time.Now()
	history, err := repo.History(ctx, orgID, branchID, devices[0], 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != telemetry.DefaultHistoryLimit {
		t.Fatalf("history rows = %d, want %d", len(history), telemetry.DefaultHistoryLimit)
	}
	historyElapsed := time.Since(historyStart)

	fleetStart := time.Now()
	latest, err := repo.LatestPerDevice(ctx, orgID, branchID)
	if err != nil {
		t.Fatalf("latest per device: %v", err)
	}
	if len(latest) != len(devices) {
		t.Fatalf("latest devices = %d, want %d", len(latest), len(devices))
	}
	fleetElapsed := time.Since(fleetStart)

	t.Logf("perf append 7d rows=%d elapsed=%s", len(devices)*7*24*6, insertElapsed)
	t.Logf("perf history rows=%d elapsed=%s", len(history), historyElapsed)
	t.Logf("perf fleet latest devices=%d elapsed=%s", len(latest), fleetElapsed)
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
