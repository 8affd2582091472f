package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Providers recorded in processed_events.
const (
	ProviderStripe = "stripe"
	ProviderQueue  = "sqs"
)

type processedDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore remembers which Stripe webhooks and queued outbox events
// have already been handled so redelivery is a no-op.
type ProcessedStore struct {
	db processedDB
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

// NewProcessedStoreWithDB allows injecting a mock database for testing.
func NewProcessedStoreWithDB(db processedDB) *ProcessedStore {
	if db == nil {
		panic("events: db required")
	}
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)`,
		provider, eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("events: lookup %s/%s: %w", provider, eventID, err)
	}
	return seen, nil
}

// MarkProcessed reports false when another worker recorded the id first.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: record %s/%s: %w", provider, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune drops records older than the retention window. Providers stop
// redelivering long before then.
func (s *ProcessedStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < now() - make_interval(secs => $1)`,
		retention.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return tag.RowsAffected(), nil
}
