package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/events"
	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

type detailsFetcher interface {
	Details(ctx context.Context, appointmentID string) (*appointments.Details, error)
}

type invoiceLoader interface {
	Load(ctx context.Context, appointmentID string) (invoices.Lookup, error)
}

// InvoiceArchiver keeps a copy of every paid invoice in S3. It consumes
// invoice.paid.v1 outbox entries.
type InvoiceArchiver struct {
	store      *Store
	details    detailsFetcher
	invoices   invoiceLoader
	clinicName string
	currency   string
	logger     *logging.Logger
}

func NewInvoiceArchiver(store *Store, details detailsFetcher, loader invoiceLoader, clinicName, currency string, logger *logging.Logger) *InvoiceArchiver {
	if logger == nil {
		logger = logging.Default()
	}
	return &InvoiceArchiver{
		store:      store,
		details:    details,
		invoices:   loader,
		clinicName: clinicName,
		currency:   currency,
		logger:     logger,
	}
}

func (a *InvoiceArchiver) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if !a.store.Enabled() || entry.Type != events.TypeInvoicePaidV1 {
		return nil
	}
	var evt events.InvoicePaidV1
	if err := entry.Decode(&evt); err != nil {
		a.logger.Error("archive: undecodable invoice.paid payload", "event_id", entry.ID, "error", err)
		return nil
	}

	details, err := a.details.Details(ctx, evt.AppointmentID)
	if err != nil && !errors.Is(err, appointments.ErrNotFound) {
		return fmt.Errorf("archive: details: %w", err)
	}
	lookup, err := a.invoices.Load(ctx, evt.AppointmentID)
	if err != nil {
		return fmt.Errorf("archive: load invoice: %w", err)
	}
	if lookup.Invoice == nil {
		a.logger.Warn("archive: invoice missing, skipping", "appointment_id", evt.AppointmentID)
		return nil
	}

	pdf, err := invoices.RenderPDFBytes(invoices.Document{
		ClinicName:  a.clinicName,
		Currency:    a.currency,
		Invoice:     lookup.Invoice,
		Details:     details,
		GeneratedAt: evt.PaidAt,
	})
	if err != nil {
		return fmt.Errorf("archive: render: %w", err)
	}

	key, err := a.store.PutInvoicePDF(ctx, evt.AppointmentID, pdf, map[string]string{
		"appointment-id":    evt.AppointmentID,
		"payment-reference": evt.PaymentReference,
	})
	if err != nil {
		return err
	}

	archivedAt := evt.PaidAt
	if archivedAt.IsZero() {
		archivedAt = time.Now().UTC()
	}
	if err := a.store.AppendManifest(ctx, ManifestEntry{
		EventID:          entry.ID.String(),
		AppointmentID:    evt.AppointmentID,
		S3Key:            key,
		PaymentReference: evt.PaymentReference,
		Source:           evt.Source,
		AmountMinorUnits: evt.AmountMinorUnits,
		Currency:         evt.Currency,
		ArchivedAt:       archivedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		// The PDF is already stored.
		a.logger.Warn("failed to append manifest", "error", err, "appointment_id", evt.AppointmentID)
	}
	return nil
}

var _ events.DeliveryHandler = (*InvoiceArchiver)(nil)
