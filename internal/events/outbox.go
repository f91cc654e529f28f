package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID        uuid.UUID
	Aggregate string
	Type      string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore persists events for reliable delivery.
type OutboxStore struct {
	pool        dbExecutor
	maxAttempts int
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool, maxAttempts: 10}
}

func newOutboxStoreWithExec(exec dbExecutor) *OutboxStore {
	return &OutboxStore{pool: exec, maxAttempts: 10}
}

// outboxNamespace seeds deterministic ids for Keyed events.
var outboxNamespace = uuid.MustParse("6f1d3c52-2a8e-4c1e-9d0b-6a54f0c2e7b1")

// Insert appends evt for aggregate (the appointment id). Keyed events get
// a stable id, so inserting the same fact twice leaves one entry and the
// second call reports inserted=false.
func (s *OutboxStore) Insert(ctx context.Context, aggregate string, evt CanonicalEvent) (uuid.UUID, bool, error) {
	if evt == nil || strings.TrimSpace(evt.EventType()) == "" {
		return uuid.Nil, false, fmt.Errorf("events: canonical event required")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	if keyed, ok := evt.(Keyed); ok && keyed.DedupeKey() != "" {
		id = uuid.NewSHA1(outboxNamespace, []byte(evt.EventType()+":"+keyed.DedupeKey()))
	}
	query := `
		INSERT INTO outbox (id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query, id, aggregate, evt.EventType(), data)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, tag.RowsAffected() > 0, nil
}

// FetchPending returns undelivered entries that have not exhausted their
// attempts, oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, aggregate, event_type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.Aggregate, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed bumps the attempt counter and keeps the last error for
// operators.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

type outboxQueue interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store     outboxQueue
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
	if store != nil {
		d.store = store
	}
	return d
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains the outbox every interval until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", entry.Attempts+1)
			if markErr := d.store.MarkFailed(ctx, entry.ID, err); markErr != nil {
				d.logger.Error("failed to record outbox failure", "error", markErr, "event_id", entry.ID)
			}
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
}
