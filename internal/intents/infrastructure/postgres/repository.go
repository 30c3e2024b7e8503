package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetguardian/internal/eventing"
	eventingrepo "fleetguardian/internal/eventing/infrastructure/postgres"
	intents "fleetguardian/internal/intents/domain"
)

const defaultIntentsTable = "intents"

const intentColumns = `id, organization_id, branch_id, target, kind, payload, idempotency_key, created_at, acknowledged_at`

// OutboxWriter enlists an outbox row in a caller transaction.
type OutboxWriter interface {
	InsertWith(ctx context.Context, exec eventingrepo.Execer, env eventing.Envelope) (string, error)
}

// IntentRepository is a Postgres implementation for intents.
type IntentRepository struct {
	db     *sql.DB
	outbox OutboxWriter
	table  string
	window time.Duration
}

// Option configures the repository.
type Option func(*IntentRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *IntentRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// WithIdempotencyWindow sets how long a key stays bound to its intent.
func WithIdempotencyWindow(window time.Duration) Option {
	return func(r *IntentRepository) {
		if window > 0 {
			r.window = window
		}
	}
}

// NewIntentRepository constructs a repository. outbox may be nil, in which
// case Create writes only the intent row.
func NewIntentRepository(db *sql.DB, outbox OutboxWriter, opts ...Option) *IntentRepository {
	r := &IntentRepository{db: db, outbox: outbox, table: defaultIntentsTable, window: intents.IdempotencyWindow}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts the intent and its outbox envelope in one transaction.
// An idempotency key held by a row inside the window yields
// intents.ErrDuplicateKey and nothing is written; keys older than the window
// are released first.
func (r *IntentRepository) Create(ctx context.Context, intent *intents.Intent, env eventing.Envelope) error {
	if r == nil || r.db == nil {
		return errors.New("intent repo: nil db")
	}
	if intent == nil {
		return errors.New("intent repo: nil intent")
	}
	payload := intent.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return errors.New("intent repo: invalid payload")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if intent.IdempotencyKey != "" {
		release := fmt.Sprintf(`
UPDATE %s
SET idempotency_key = NULL
WHERE organization_id = $1 AND idempotency_key = $2 AND created_at < $3`, r.table)
		if _, err := tx.ExecContext(ctx, release,
			intent.OrganizationID, intent.IdempotencyKey, intent.CreatedAt.Add(-r.window),
		); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, organization_id, branch_id, target, kind, payload, idempotency_key, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (organization_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`, r.table)
	res, err := tx.ExecContext(ctx, query,
		intent.ID,
		intent.OrganizationID,
		intent.BranchID,
		intent.Target,
		string(intent.Kind),
		[]byte(payload),
		nullableString(intent.IdempotencyKey),
		intent.CreatedAt,
	)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return intents.ErrDuplicateKey
	}
	if r.outbox != nil && env.EventID != "" {
		if _, err := r.outbox.InsertWith(ctx, tx, env); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FindByIdempotencyKey finds an intent by key within a time window.
func (r *IntentRepository) FindByIdempotencyKey(ctx context.Context, organizationID, key string, since time.Time) (*intents.Intent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("intent repo: nil db")
	}
	if organizationID == "" || key == "" {
		return nil, errors.New("intent repo: invalid idempotency query")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1 AND idempotency_key = $2 AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1`, intentColumns, r.table)
	return scanIntent(r.db.QueryRowContext(ctx, query, organizationID, key, since))
}

// GetByID fetches an intent by id.
func (r *IntentRepository) GetByID(ctx context.Context, id string) (*intents.Intent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("intent repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, intentColumns, r.table)
	return scanIntent(r.db.QueryRowContext(ctx, query, id))
}

// ListByTarget returns the newest intents for a device within a tenant.
func (r *IntentRepository) ListByTarget(ctx context.Context, organizationID, branchID, target string, limit int) ([]intents.Intent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("intent repo: nil db")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE organization_id = $1 AND branch_id = $2 AND target = $3
ORDER BY created_at DESC
LIMIT $4`, intentColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, organizationID, branchID, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []intents.Intent
	for rows.Next() {
		item, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		if item != nil {
			result = append(result, *item)
		}
	}
	return result, rows.Err()
}

// AcknowledgeSOS stamps every open SOS intent for target.
func (r *IntentRepository) AcknowledgeSOS(ctx context.Context, organizationID, branchID, target string, at time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("intent repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET acknowledged_at = $1
WHERE organization_id = $2 AND branch_id = $3 AND target = $4
	AND kind = $5 AND acknowledged_at IS NULL`, r.table)
	result, err := r.db.ExecContext(ctx, query, at.UTC(), organizationID, branchID, target, string(intents.KindSOS))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// OpenSOSTargets returns the devices in a tenant with unacknowledged SOS.
func (r *IntentRepository) OpenSOSTargets(ctx context.Context, organizationID, branchID string) (map[string]bool, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("intent repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT target
FROM %s
WHERE organization_id = $1 AND branch_id = $2 AND kind = $3 AND acknowledged_at IS NULL`, r.table)
	rows, err := r.db.QueryContext(ctx, query, organizationID, branchID, string(intents.KindSOS))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := make(map[string]bool)
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		open[target] = true
	}
	return open, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*intents.Intent, error) {
	var (
		item           intents.Intent
		kind           string
		payload        []byte
		idempotencyKey sql.NullString
		acknowledgedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.OrganizationID,
		&item.BranchID,
		&item.Target,
		&kind,
		&payload,
		&idempotencyKey,
		&item.CreatedAt,
		&acknowledgedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	item.Kind = intents.Kind(kind)
	item.Payload = json.RawMessage(payload)
	item.CreatedAt = item.CreatedAt.UTC()
	if idempotencyKey.Valid {
		item.IdempotencyKey = idempotencyKey.String
	}
	if acknowledgedAt.Valid {
		at := acknowledgedAt.Time.UTC()
		item.AcknowledgedAt = &at
	}
	return &item, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
