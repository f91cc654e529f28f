package events

import "time"

const (
	TypeInvoicePaidV1            = "invoice.paid.v1"
	TypePaymentCaptureMismatchV1 = "payment.capture_mismatch.v1"
)

// CanonicalEvent is a versioned domain event stored in the outbox.
type CanonicalEvent interface {
	EventType() string
}

// Keyed events carry a natural key; the outbox collapses duplicates of
// the same key into one entry.
type Keyed interface {
	DedupeKey() string
}

// InvoicePaidV1 is emitted once an invoice transitions to paid.
type InvoicePaidV1 struct {
	AppointmentID    string    `json:"appointment_id"`
	PaymentReference string    `json:"payment_reference"`
	Source           string    `json:"source"`
	OrderID          string    `json:"order_id,omitempty"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	PaidAt           time.Time `json:"paid_at"`
}

func (InvoicePaidV1) EventType() string { return TypeInvoicePaidV1 }

func (e InvoicePaidV1) DedupeKey() string {
	if e.AppointmentID == "" || e.PaymentReference == "" {
		return ""
	}
	return e.AppointmentID + "|" + e.PaymentReference
}

// PaymentCaptureMismatchV1 flags money captured by the gateway that could
// not be posted to the invoice. Operations must reconcile it by hand or
// let the webhook retry succeed.
type PaymentCaptureMismatchV1 struct {
	AppointmentID    string    `json:"appointment_id"`
	OrderID          string    `json:"order_id,omitempty"`
	PaymentID        string    `json:"payment_id"`
	Source           string    `json:"source"`
	AmountMinorUnits int64     `json:"amount_minor_units,omitempty"`
	Reason           string    `json:"reason"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (PaymentCaptureMismatchV1) EventType() string { return TypePaymentCaptureMismatchV1 }

// DedupeKey collapses gateway retries of one failed payment into one entry.
func (e PaymentCaptureMismatchV1) DedupeKey() string {
	if e.AppointmentID == "" || e.PaymentID == "" {
		return ""
	}
	return e.AppointmentID + "|" + e.PaymentID
}
