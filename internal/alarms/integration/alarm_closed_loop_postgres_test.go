package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	alarmapp "fleetguardian/internal/alarms/application"
	alarms "fleetguardian/internal/alarms/domain"
	alarmrepo "fleetguardian/internal/alarms/infrastructure/postgres"
	"fleetguardian/internal/auth"
	intentsapp "fleetguardian/internal/intents/application"
	intents "fleetguardian/internal/intents/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type countingSender struct{ sent int }

func (s *countingSender) Send(_ context.Context, req intentsapp.SendRequest) (*intents.Intent, error) {
	s.sent++
	return &intents.Intent{ID: "it", Target: req.Target, Kind: req.Kind}, nil
}

func TestAlertEdgeState_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "alert_states") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	deviceID := "eeeeeeee-1111-4111-8111-eeeeeeeeeeee"
	tenant := auth.Tenant{
		OrganizationID: "11111111-1111-4111-8111-111111111111",
		BranchID:       "22222222-2222-4222-8222-222222222222",
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM alert_states WHERE device_id = $1", deviceID)

	sender := &countingSender{}
	states := alarmrepo.NewAlertStateRepository(db)
	svc, err := alarmapp.NewService(alarms.DefaultRules(), states, sender)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	for _, speed := range []float64{120, 130, 95, 80, 110} {
		if _, err := svc.Check(ctx, tenant, alarms.Sample{DeviceID: deviceID, SpeedKmh: speed}); err != nil {
			t.Fatalf("check %v: %v", speed, err)
		}
	}
	if sender.sent != 2 {
		t.Fatalf("expected 2 alerts, got %d", sender.sent)
	}

	// A second service over the same table sees the raised state.
	restarted, err := alarmapp.NewService(alarms.DefaultRules(), states, sender)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if _, err := restarted.Check(ctx, tenant, alarms.Sample{DeviceID: deviceID, SpeedKmh: 115}); err != nil {
		t.Fatalf("check: %v", err)
	}
	if sender.sent != 2 {
		t.Fatalf("restart re-raised alert: %d", sender.sent)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var name sql.NullString
	if err := db.QueryRow("SELECT to_regclass($1)", "public."+table).Scan(&name); err != nil {
		return false
	}
	return name.Valid
}
