package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists invoices, one row per appointment.
type Repository struct {
	db  querier
	now func() time.Time
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("invoices: pgx pool required")
	}
	return &Repository{db: pool, now: time.Now}
}

func newRepositoryWithQuerier(q querier) *Repository {
	return &Repository{db: q, now: time.Now}
}

const selectInvoice = `
	SELECT appointment_id, to_char(invoice_date, 'YYYY-MM-DD'), payment_status, items,
	       COALESCE(payment_reference, ''), paid_at, created_at, updated_at
	FROM invoices
`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var items []byte
	if err := row.Scan(&inv.AppointmentID, &inv.InvoiceDate, &inv.PaymentStatus, &items,
		&inv.PaymentReference, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("invoices: decode items: %w", err)
	}
	return &inv, nil
}

// Get loads the invoice for an appointment.
func (r *Repository) Get(ctx context.Context, appointmentID string) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRow(ctx, selectInvoice+` WHERE appointment_id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invoices: load: %w", err)
	}
	return inv, nil
}

// Create inserts a new unpaid invoice.
func (r *Repository) Create(ctx context.Context, appointmentID, invoiceDate string, items []Item) (*Invoice, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("invoices: encode items: %w", err)
	}
	now := r.now().UTC()
	query := `
		INSERT INTO invoices (appointment_id, invoice_date, payment_status, items, created_at, updated_at)
		VALUES ($1, $2, false, $3, $4, $4)
		ON CONFLICT (appointment_id) DO NOTHING
	`
	ct, err := r.db.Exec(ctx, query, appointmentID, invoiceDate, data, now)
	if err != nil {
		return nil, fmt.Errorf("invoices: insert: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrAlreadyExists
	}
	return &Invoice{
		AppointmentID: appointmentID,
		InvoiceDate:   invoiceDate,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Update replaces date and items on an unpaid invoice.
func (r *Repository) Update(ctx context.Context, appointmentID, invoiceDate string, items []Item) (*Invoice, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("invoices: encode items: %w", err)
	}
	query := `
		UPDATE invoices
		SET invoice_date = $2, items = $3, updated_at = $4
		WHERE appointment_id = $1 AND payment_status = false
		RETURNING appointment_id, to_char(invoice_date, 'YYYY-MM-DD'), payment_status, items,
		          COALESCE(payment_reference, ''), paid_at, created_at, updated_at
	`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, appointmentID, invoiceDate, data, r.now().UTC()))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoices: update: %w", err)
	}
	if _, err := r.Get(ctx, appointmentID); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyPaid
}

// MarkPaid flips payment_status exactly once. When expected is set the
// update only applies while the items still sum to it. Replaying the same
// reference returns the stored invoice with applied=false; a different
// reference on a paid invoice is ErrAlreadyPaid.
func (r *Repository) MarkPaid(ctx context.Context, appointmentID, reference string, expected *decimal.Decimal) (*Invoice, bool, error) {
	now := r.now().UTC()
	var expectedArg any
	if expected != nil {
		expectedArg = expected.String()
	}
	query := `
		UPDATE invoices
		SET payment_status = true, payment_reference = $2, paid_at = $3, updated_at = $3
		WHERE appointment_id = $1 AND payment_status = false
		  AND ($4::text IS NULL OR (
		      SELECT COALESCE(SUM((item->>'amount')::numeric), 0)
		      FROM jsonb_array_elements(items) AS item
		  ) = $4::text::numeric)
		RETURNING appointment_id, to_char(invoice_date, 'YYYY-MM-DD'), payment_status, items,
		          COALESCE(payment_reference, ''), paid_at, created_at, updated_at
	`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, appointmentID, reference, now, expectedArg))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("invoices: mark paid: %w", err)
	}

	current, err := r.Get(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	switch {
	case !current.PaymentStatus && expected != nil && !current.Total().Equal(*expected):
		return nil, false, fmt.Errorf("%w: invoice total %s, payment %s", ErrTotalChanged, current.Total(), expected)
	case !current.PaymentStatus:
		return nil, false, fmt.Errorf("invoices: mark paid: invoice %s changed concurrently", appointmentID)
	case current.PaymentReference == reference:
		return current, false, nil
	default:
		return nil, false, ErrAlreadyPaid
	}
}
