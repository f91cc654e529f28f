package invoices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store with the same paid-once semantics as
// Repository.
type MemoryStore struct {
	mu       sync.Mutex
	invoices map[string]Invoice
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[string]Invoice), now: time.Now}
}

func clone(inv Invoice) *Invoice {
	inv.Items = append([]Item(nil), inv.Items...)
	if inv.PaidAt != nil {
		at := *inv.PaidAt
		inv.PaidAt = &at
	}
	return &inv
}

func (m *MemoryStore) Get(_ context.Context, appointmentID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[appointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(inv), nil
}

func (m *MemoryStore) Create(_ context.Context, appointmentID, invoiceDate string, items []Item) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[appointmentID]; ok {
		return nil, ErrAlreadyExists
	}
	now := m.now().UTC()
	inv := Invoice{
		AppointmentID: appointmentID,
		InvoiceDate:   invoiceDate,
		Items:         append([]Item(nil), items...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.invoices[appointmentID] = inv
	return clone(inv), nil
}

func (m *MemoryStore) Update(_ context.Context, appointmentID, invoiceDate string, items []Item) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[appointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.PaymentStatus {
		return nil, ErrAlreadyPaid
	}
	inv.InvoiceDate = invoiceDate
	inv.Items = append([]Item(nil), items...)
	inv.UpdatedAt = m.now().UTC()
	m.invoices[appointmentID] = inv
	return clone(inv), nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, appointmentID, reference string, expected *decimal.Decimal) (*Invoice, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[appointmentID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if inv.PaymentStatus {
		if inv.PaymentReference == reference {
			return clone(inv), false, nil
		}
		return nil, false, fmt.Errorf("%w (reference %s)", ErrAlreadyPaid, inv.PaymentReference)
	}
	if expected != nil && !inv.Total().Equal(*expected) {
		return nil, false, fmt.Errorf("%w: invoice total %s, payment %s", ErrTotalChanged, inv.Total(), expected)
	}
	now := m.now().UTC()
	inv.PaymentStatus = true
	inv.PaymentReference = reference
	inv.PaidAt = &now
	inv.UpdatedAt = now
	m.invoices[appointmentID] = inv
	return clone(inv), true, nil
}
