package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore claims gateway webhook events so each is applied once.
// A claim is released when processing fails so the gateway's retry can
// take it again.
type ProcessedStore struct {
	pool execer
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec execer) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// Claim records provider/eventID and reports whether this caller owns it.
// False means the event was already claimed.
func (s *ProcessedStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: claim processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release drops a claim after a failed attempt.
func (s *ProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	query := `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`
	if _, err := s.pool.Exec(ctx, query, provider, eventID); err != nil {
		return fmt.Errorf("events: release processed: %w", err)
	}
	return nil
}
