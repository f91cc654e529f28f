package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownOrder means a confirmation names an order this service never
// opened.
var ErrUnknownOrder = errors.New("payments: unknown order")

// OrderRecord is the local copy of a gateway order: which appointment it
// pays and for how much.
type OrderRecord struct {
	OrderID          string
	AppointmentID    string
	AmountMinorUnits int64
	Currency         string
	Gateway          string
	CreatedAt        time.Time
}

// OrderStore remembers orders between InitiatePayment and the payment
// callback.
type OrderStore interface {
	Save(ctx context.Context, rec OrderRecord) error
	// Get returns ErrUnknownOrder when orderID was never saved.
	Get(ctx context.Context, orderID string) (*OrderRecord, error)
}

type orderQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderRepository keeps orders in the payment_orders table.
type OrderRepository struct {
	db orderQuerier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &OrderRepository{db: pool}
}

func newOrderRepositoryWithQuerier(q orderQuerier) *OrderRepository {
	return &OrderRepository{db: q}
}

func (r *OrderRepository) Save(ctx context.Context, rec OrderRecord) error {
	query := `
		INSERT INTO payment_orders (order_id, appointment_id, amount_minor_units, currency, gateway)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, rec.OrderID, rec.AppointmentID, rec.AmountMinorUnits, rec.Currency, rec.Gateway); err != nil {
		return fmt.Errorf("payments: save order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (*OrderRecord, error) {
	query := `
		SELECT order_id, appointment_id, amount_minor_units, currency, gateway, created_at
		FROM payment_orders
		WHERE order_id = $1
	`
	var rec OrderRecord
	err := r.db.QueryRow(ctx, query, orderID).Scan(
		&rec.OrderID, &rec.AppointmentID, &rec.AmountMinorUnits, &rec.Currency, &rec.Gateway, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("payments: get order: %w", err)
	}
	return &rec, nil
}

// MemoryOrderStore is the single-process OrderStore.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]OrderRecord
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]OrderRecord)}
}

func (m *MemoryOrderStore) Save(_ context.Context, rec OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[rec.OrderID]; !ok {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		m.orders[rec.OrderID] = rec
	}
	return nil
}

func (m *MemoryOrderStore) Get(_ context.Context, orderID string) (*OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	return &rec, nil
}
