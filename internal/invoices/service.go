package invoices

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

var invoicesTracer = otel.Tracer("clinic.internal.invoices")

// Store is the invoice persistence the service drives.
type Store interface {
	Get(ctx context.Context, appointmentID string) (*Invoice, error)
	Create(ctx context.Context, appointmentID, invoiceDate string, items []Item) (*Invoice, error)
	Update(ctx context.Context, appointmentID, invoiceDate string, items []Item) (*Invoice, error)
	MarkPaid(ctx context.Context, appointmentID, reference string, expected *decimal.Decimal) (*Invoice, bool, error)
}

// Auditor records billing events for later review.
type Auditor interface {
	Record(ctx context.Context, eventType, appointmentID string, details any) error
}

// Lookup is the result of Load. Invoice is nil in StateNoInvoice.
type Lookup struct {
	State   State           `json:"state"`
	Invoice *Invoice        `json:"invoice,omitempty"`
	Total   decimal.Decimal `json:"total"`
}

// Service owns the invoice lifecycle: NoInvoice, Unpaid, Paid.
type Service struct {
	store   Store
	audit   Auditor
	metrics *metrics.BillingMetrics
	logger  *logging.Logger
}

// NewService constructs an invoice service. audit and m may be nil.
func NewService(store Store, audit Auditor, m *metrics.BillingMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("invoices: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, audit: audit, metrics: m, logger: logger}
}

// Load fetches the appointment's invoice. A missing invoice is the
// NoInvoice state, not an error; storage failures are returned as-is.
func (s *Service) Load(ctx context.Context, appointmentID string) (Lookup, error) {
	ctx, span := invoicesTracer.Start(ctx, "invoices.load")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID))

	inv, err := s.store.Get(ctx, appointmentID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Lookup{State: StateNoInvoice, Total: decimal.Zero}, nil
	case err != nil:
		span.RecordError(err)
		return Lookup{State: StateNoInvoice, Total: decimal.Zero}, err
	}
	return Lookup{State: StateOf(inv), Invoice: inv, Total: inv.Total()}, nil
}

// Save creates the invoice when none exists, otherwise replaces its date
// and items. Paid invoices are immutable. A PaymentStatus of true records
// a desk payment after the items are saved.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*Invoice, bool, error) {
	ctx, span := invoicesTracer.Start(ctx, "invoices.save")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", req.AppointmentID))

	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.InvoiceDate = strings.TrimSpace(req.InvoiceDate)
	if err := req.Validate(); err != nil {
		s.metrics.ObserveInvoiceSave("validate", "rejected")
		return nil, false, err
	}

	inv, created, err := s.upsert(ctx, req)
	if err != nil {
		span.RecordError(err)
		action := "update"
		if created {
			action = "create"
		}
		s.metrics.ObserveInvoiceSave(action, "error")
		return nil, created, err
	}

	action, event := "update", "invoice.updated"
	if created {
		action, event = "create", "invoice.created"
	}
	s.metrics.ObserveInvoiceSave(action, "ok")
	s.record(ctx, event, inv.AppointmentID, map[string]any{
		"invoice_date": inv.InvoiceDate,
		"items":        len(inv.Items),
		"total":        inv.Total().String(),
	})
	s.logger.Info("invoice saved", "appointment_id", inv.AppointmentID, "created", created, "total", inv.Total().String())

	if req.PaymentStatus != nil && *req.PaymentStatus {
		paid, err := s.MarkPaid(ctx, inv.AppointmentID, OfflineReference(inv.AppointmentID), "desk")
		if err != nil {
			return inv, created, err
		}
		inv = paid
	}
	return inv, created, nil
}

func (s *Service) upsert(ctx context.Context, req SaveRequest) (*Invoice, bool, error) {
	existing, err := s.store.Get(ctx, req.AppointmentID)
	switch {
	case errors.Is(err, ErrNotFound):
		inv, err := s.store.Create(ctx, req.AppointmentID, req.InvoiceDate, req.Items)
		if err == nil {
			return inv, true, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, true, err
		}
		// Lost a create race; fall through to update.
	case err != nil:
		return nil, false, err
	case existing.PaymentStatus:
		return nil, false, ErrAlreadyPaid
	}

	inv, err := s.store.Update(ctx, req.AppointmentID, req.InvoiceDate, req.Items)
	if err != nil {
		return nil, false, err
	}
	return inv, false, nil
}

// MarkPaid settles the invoice under reference, the idempotency key.
// Replaying the same reference returns the paid invoice unchanged.
func (s *Service) MarkPaid(ctx context.Context, appointmentID, reference, source string) (*Invoice, error) {
	return s.markPaid(ctx, appointmentID, reference, source, nil)
}

// SettlePayment is MarkPaid for a gateway payment of amount. It fails
// with ErrTotalChanged if the unpaid invoice no longer totals amount.
func (s *Service) SettlePayment(ctx context.Context, appointmentID, reference, source string, amount decimal.Decimal) (*Invoice, error) {
	return s.markPaid(ctx, appointmentID, reference, source, &amount)
}

func (s *Service) markPaid(ctx context.Context, appointmentID, reference, source string, expected *decimal.Decimal) (*Invoice, error) {
	ctx, span := invoicesTracer.Start(ctx, "invoices.mark_paid")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", appointmentID),
		attribute.String("clinic.payment_source", source),
	)

	reference = strings.TrimSpace(reference)
	if reference == "" {
		err := &ValidationError{Problems: []FieldError{{Field: "idempotency_key", Problem: "required"}}}
		span.RecordError(err)
		return nil, err
	}

	inv, applied, err := s.store.MarkPaid(ctx, appointmentID, reference, expected)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !applied {
		s.logger.Debug("invoice payment replayed", "appointment_id", appointmentID, "reference", reference, "source", source)
		return inv, nil
	}
	s.record(ctx, "invoice.paid", appointmentID, map[string]any{
		"reference": reference,
		"source":    source,
		"total":     inv.Total().String(),
	})
	s.logger.Info("invoice marked paid", "appointment_id", appointmentID, "reference", reference, "source", source)
	return inv, nil
}

func (s *Service) record(ctx context.Context, eventType, appointmentID string, details any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, eventType, appointmentID, details); err != nil {
		s.logger.Warn("failed to record billing audit event", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}
