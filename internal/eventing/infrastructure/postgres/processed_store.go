package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultProcessedTable = "processed_events"
	// DefaultProcessedRetention bounds how long dedup markers are kept. It
	// must outlive the dispatcher's retry horizon.
	DefaultProcessedRetention = 7 * 24 * time.Hour
)

var (
	// ErrNilDB is returned by a store built without a database handle.
	ErrNilDB = errors.New("processed store: nil db")
	// ErrProcessedArgs is returned for an empty event id or consumer name.
	ErrProcessedArgs = errors.New("processed store: empty event id or consumer")
)

// ProcessedStore records which consumer has handled which event, so a
// command relayed to a device is delivered once per consumer even when two
// dispatcher workers pick up the same outbox row.
type ProcessedStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// ProcessedOption configures the processed store.
type ProcessedOption func(*ProcessedStore)

// WithProcessedTable overrides table name.
func WithProcessedTable(table string) ProcessedOption {
	return func(store *ProcessedStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB, opts ...ProcessedOption) *ProcessedStore {
	store := &ProcessedStore{db: db, table: defaultProcessedTable, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *ProcessedStore) check(eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return ErrNilDB
	}
	if eventID == "" || consumerName == "" {
		return ErrProcessedArgs
	}
	return nil
}

// HasProcessed checks if event was already processed by the consumer.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(eventID, consumerName); err != nil {
		return false, err
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE event_id = $1 AND consumer_name = $2)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, eventID, consumerName).Scan(&exists); err != nil {
		return false, fmt.Errorf("processed store: lookup %s/%s: %w", consumerName, eventID, err)
	}
	return exists, nil
}

// MarkProcessed records an event as processed. Marking twice is a no-op.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_, err := s.Claim(ctx, eventID, consumerName)
	return err
}

// Claim records the marker and reports whether this call created it. Only
// the caller that wins the claim should run the handler.
func (s *ProcessedStore) Claim(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(eventID, consumerName); err != nil {
		return false, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name) DO NOTHING`, s.table)
	res, err := s.db.ExecContext(ctx, query, eventID, consumerName, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("processed store: claim %s/%s: %w", consumerName, eventID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("processed store: claim %s/%s: %w", consumerName, eventID, err)
	}
	return rows == 1, nil
}

// Release drops a claim after the handler failed so a retry can run it.
func (s *ProcessedStore) Release(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(eventID, consumerName); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE event_id = $1 AND consumer_name = $2`, s.table)
	if _, err := s.db.ExecContext(ctx, query, eventID, consumerName); err != nil {
		return fmt.Errorf("processed store: release %s/%s: %w", consumerName, eventID, err)
	}
	return nil
}

// Prune deletes markers older than retention and returns how many went.
// A non-positive retention uses DefaultProcessedRetention.
func (s *ProcessedStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilDB
	}
	if retention <= 0 {
		retention = DefaultProcessedRetention
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE processed_at < $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("processed store: prune: %w", err)
	}
	return res.RowsAffected()
}
