package invoices

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means no invoice has been posted for the appointment yet.
	ErrNotFound = errors.New("invoices: not found")
	// ErrAlreadyPaid rejects changes to a settled invoice.
	ErrAlreadyPaid = errors.New("invoices: already paid")
	// ErrAlreadyExists is returned by Create when the appointment already
	// has an invoice.
	ErrAlreadyExists = errors.New("invoices: already exists")
	// ErrTotalChanged rejects a payment whose amount no longer matches the
	// unpaid invoice.
	ErrTotalChanged = errors.New("invoices: total does not match payment")
)

// State is where an appointment sits in the billing lifecycle. Paid is
// terminal.
type State string

const (
	StateNoInvoice State = "no_invoice"
	StateUnpaid    State = "unpaid"
	StatePaid      State = "paid"
)

// Item is one billable line.
type Item struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice bills a single appointment.
type Invoice struct {
	AppointmentID    string     `json:"appointment_id"`
	InvoiceDate      string     `json:"invoice_date"`
	PaymentStatus    bool       `json:"payment_status"`
	Items            []Item     `json:"items"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Total sums the invoice's items.
func (inv *Invoice) Total() decimal.Decimal {
	if inv == nil {
		return decimal.Zero
	}
	return ComputeTotal(inv.Items)
}

// StateOf maps a possibly-missing invoice onto its lifecycle state.
func StateOf(inv *Invoice) State {
	switch {
	case inv == nil:
		return StateNoInvoice
	case inv.PaymentStatus:
		return StatePaid
	default:
		return StateUnpaid
	}
}

// ComputeTotal sums item amounts. An empty list totals zero.
func ComputeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}

// MinorUnits scales amount by scale (100 for paise) and requires the
// result to be a non-negative whole number.
func MinorUnits(amount decimal.Decimal, scale int) (int64, error) {
	if scale <= 0 {
		return 0, fmt.Errorf("invoices: invalid minor unit scale %d", scale)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("invoices: negative amount %s", amount)
	}
	scaled := amount.Mul(decimal.NewFromInt(int64(scale)))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("invoices: amount %s has more precision than minor units allow", amount)
	}
	return scaled.IntPart(), nil
}

// OfflineReference is the payment reference recorded when reception marks
// an invoice paid at the desk. It is stable so repeated updates are no-ops.
func OfflineReference(appointmentID string) string {
	return "offline:" + appointmentID
}
