package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/events"
	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

const receiptClaimProvider = "receipt-email"

// DetailsFetcher resolves the appointment an invoice belongs to.
type DetailsFetcher interface {
	Details(ctx context.Context, appointmentID string) (*appointments.Details, error)
}

// InvoiceLoader loads the paid invoice to print.
type InvoiceLoader interface {
	Load(ctx context.Context, appointmentID string) (invoices.Lookup, error)
}

// Claimer dedupes sends across outbox redeliveries. Optional.
type Claimer interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// ReceiptMailer emails the patient a PDF receipt when an invoice is paid.
type ReceiptMailer struct {
	sender     EmailSender
	details    DetailsFetcher
	invoices   InvoiceLoader
	claims     Claimer
	clinicName string
	currency   string
	logger     *logging.Logger
}

type ReceiptConfig struct {
	ClinicName string
	Currency   string
}

func NewReceiptMailer(sender EmailSender, details DetailsFetcher, loader InvoiceLoader, claims Claimer, cfg ReceiptConfig, logger *logging.Logger) *ReceiptMailer {
	if sender == nil || details == nil || loader == nil {
		panic("notify: receipt mailer requires sender, details and invoices")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "Dental Clinic"
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &ReceiptMailer{
		sender:     sender,
		details:    details,
		invoices:   loader,
		claims:     claims,
		clinicName: cfg.ClinicName,
		currency:   cfg.Currency,
		logger:     logger,
	}
}

// Handle implements events.DeliveryHandler for invoice.paid.v1 entries.
// Other event types are ignored.
func (m *ReceiptMailer) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeInvoicePaidV1 {
		return nil
	}
	var evt events.InvoicePaidV1
	if err := entry.Decode(&evt); err != nil {
		// A payload we cannot read will never succeed; drop it.
		m.logger.Error("receipt: undecodable invoice.paid payload", "event_id", entry.ID, "error", err)
		return nil
	}

	details, err := m.details.Details(ctx, evt.AppointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		m.logger.Warn("receipt: appointment gone, skipping", "appointment_id", evt.AppointmentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: receipt details: %w", err)
	}
	to := strings.TrimSpace(details.Patient.Email)
	if to == "" {
		m.logger.Warn("receipt: patient has no email, skipping", "appointment_id", evt.AppointmentID, "patient_id", details.Patient.ID)
		return nil
	}

	lookup, err := m.invoices.Load(ctx, evt.AppointmentID)
	if err != nil {
		return fmt.Errorf("notify: receipt invoice: %w", err)
	}
	if lookup.Invoice == nil {
		m.logger.Warn("receipt: invoice missing, skipping", "appointment_id", evt.AppointmentID)
		return nil
	}

	pdf, err := invoices.RenderPDFBytes(invoices.Document{
		ClinicName:  m.clinicName,
		Currency:    m.currency,
		Invoice:     lookup.Invoice,
		Details:     details,
		GeneratedAt: evt.PaidAt,
	})
	if err != nil {
		return fmt.Errorf("notify: receipt pdf: %w", err)
	}

	claimID := entry.ID.String()
	if m.claims != nil {
		ok, err := m.claims.Claim(ctx, receiptClaimProvider, claimID)
		if err != nil {
			return fmt.Errorf("notify: receipt claim: %w", err)
		}
		if !ok {
			m.logger.Debug("receipt already sent", "event_id", claimID)
			return nil
		}
	}

	msg := EmailMessage{
		To:      to,
		ToName:  details.Patient.Name,
		Subject: fmt.Sprintf("%s: payment receipt for your visit on %s", m.clinicName, details.Appointment.Date),
		Body:    receiptBody(m.clinicName, details, lookup, evt),
		Attachments: []Attachment{{
			Filename:    "invoice-" + evt.AppointmentID + ".pdf",
			ContentType: "application/pdf",
			Content:     pdf,
		}},
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		if m.claims != nil {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if rerr := m.claims.Release(releaseCtx, receiptClaimProvider, claimID); rerr != nil {
				m.logger.Error("receipt: release claim failed", "event_id", claimID, "error", rerr)
			}
			cancel()
		}
		return fmt.Errorf("notify: send receipt: %w", err)
	}
	m.logger.Info("receipt emailed", "appointment_id", evt.AppointmentID, "payment_reference", evt.PaymentReference)
	return nil
}

func receiptBody(clinic string, d *appointments.Details, lookup invoices.Lookup, evt events.InvoicePaidV1) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", d.Patient.Name)
	fmt.Fprintf(&b, "We received your payment of %s for your appointment with %s on %s.\n",
		lookup.Total.StringFixed(2), d.Dentist.Name, d.Appointment.Date)
	if evt.PaymentReference != "" {
		fmt.Fprintf(&b, "Payment reference: %s\n", evt.PaymentReference)
	}
	fmt.Fprintf(&b, "\nYour invoice is attached.\n\n%s\n", clinic)
	return b.String()
}

var _ events.DeliveryHandler = (*ReceiptMailer)(nil)
