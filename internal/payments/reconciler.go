package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/events"
	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
	"github.com/wolfman30/dental-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// InvoiceService is the part of invoices.Service the reconciler drives.
type InvoiceService interface {
	Load(ctx context.Context, appointmentID string) (invoices.Lookup, error)
	SettlePayment(ctx context.Context, appointmentID, reference, source string, amount decimal.Decimal) (*invoices.Invoice, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, aggregate string, evt events.CanonicalEvent) (uuid.UUID, bool, error)
}

// Snapshot is the reconciled view of one appointment's billing.
type Snapshot struct {
	Details *appointments.Details `json:"details"`
	State   invoices.State        `json:"state"`
	Invoice *invoices.Invoice     `json:"invoice,omitempty"`
	Total   decimal.Decimal       `json:"total"`
}

// PaymentOrder is what the portal needs to open the checkout widget.
type PaymentOrder struct {
	AppointmentID    string `json:"appointment_id"`
	OrderID          string `json:"order_id"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	KeyID            string `json:"key_id"`
	Gateway          string `json:"gateway"`
	ClinicName       string `json:"clinic_name"`
}

// Confirmation reports a captured payment, from the checkout callback or
// a gateway webhook. AmountMinorUnits and Currency are zero when the
// source does not report them; AppointmentID may be empty when the order
// identifies it.
type Confirmation struct {
	AppointmentID    string
	OrderID          string
	PaymentID        string
	AmountMinorUnits int64
	Currency         string
	Source           string
}

// ReconcilerConfig holds the billing constants.
type ReconcilerConfig struct {
	Currency       string
	MinorUnitScale int
	ClinicName     string
}

// Reconciler keeps an appointment's invoice consistent with gateway
// payments.
type Reconciler struct {
	details  invoices.DetailsFetcher
	invoices InvoiceService
	gateway  Gateway
	guard    OrderGuard
	orders   OrderStore
	outbox   outboxWriter
	audit    invoices.Auditor
	metrics  *metrics.BillingMetrics
	cfg      ReconcilerConfig
	logger   *logging.Logger
	now      func() time.Time
}

// ReconcilerDeps wires the reconciler's collaborators. Outbox, Audit and
// Metrics may be nil. Guard and Orders default to in-process stores.
type ReconcilerDeps struct {
	Details  invoices.DetailsFetcher
	Invoices InvoiceService
	Gateway  Gateway
	Guard    OrderGuard
	Orders   OrderStore
	Outbox   outboxWriter
	Audit    invoices.Auditor
	Metrics  *metrics.BillingMetrics
	Logger   *logging.Logger
}

func NewReconciler(deps ReconcilerDeps, cfg ReconcilerConfig) *Reconciler {
	if deps.Details == nil || deps.Invoices == nil || deps.Gateway == nil {
		panic("payments: details, invoices and gateway required")
	}
	if deps.Guard == nil {
		deps.Guard = NewLocalOrderGuard()
	}
	if deps.Orders == nil {
		deps.Orders = NewMemoryOrderStore()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.MinorUnitScale <= 0 {
		cfg.MinorUnitScale = 100
	}
	return &Reconciler{
		details:  deps.Details,
		invoices: deps.Invoices,
		gateway:  deps.Gateway,
		guard:    deps.Guard,
		orders:   deps.Orders,
		outbox:   deps.Outbox,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Gateway exposes the configured gateway for signature checks.
func (r *Reconciler) Gateway() Gateway { return r.gateway }

// Load fetches appointment details and the invoice concurrently. If ctx
// is done by the time both return, the result is discarded.
func (r *Reconciler) Load(ctx context.Context, appointmentID string) (*Snapshot, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.load")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID))

	var (
		details *appointments.Details
		lookup  invoices.Lookup
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := r.details.Details(gctx, appointmentID)
		if err != nil {
			if errors.Is(err, appointments.ErrNotFound) {
				return err
			}
			return &NetworkError{Op: "load appointment details", Err: err}
		}
		details = d
		return nil
	})
	g.Go(func() error {
		l, err := r.invoices.Load(gctx, appointmentID)
		if err != nil {
			return &NetworkError{Op: "load invoice", Err: err}
		}
		lookup = l
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil, ErrStaleResult
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &Snapshot{
		Details: details,
		State:   lookup.State,
		Invoice: lookup.Invoice,
		Total:   lookup.Total,
	}, nil
}

// InitiatePayment opens a gateway order for the invoice's outstanding
// total. Concurrent calls for one appointment get ErrOrderInFlight.
func (r *Reconciler) InitiatePayment(ctx context.Context, appointmentID string) (*PaymentOrder, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.initiate")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", appointmentID))

	release, err := r.guard.Acquire(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrOrderInFlight) {
			r.metrics.ObservePaymentOrder("in_flight")
			return nil, err
		}
		// Lock store unavailable; refuse rather than risk duplicate orders.
		r.metrics.ObservePaymentOrder("error")
		return nil, &NetworkError{Op: "acquire order lock", Err: err}
	}
	defer release()

	lookup, err := r.invoices.Load(ctx, appointmentID)
	if err != nil {
		r.metrics.ObservePaymentOrder("error")
		return nil, &NetworkError{Op: "load invoice", Err: err}
	}
	switch lookup.State {
	case invoices.StateNoInvoice:
		r.metrics.ObservePaymentOrder("rejected")
		return nil, invoices.ErrNotFound
	case invoices.StatePaid:
		r.metrics.ObservePaymentOrder("rejected")
		return nil, fmt.Errorf("%w: invoice already paid", ErrNothingToPay)
	}
	if !lookup.Total.IsPositive() {
		r.metrics.ObservePaymentOrder("rejected")
		return nil, fmt.Errorf("%w: invoice total is %s", ErrNothingToPay, lookup.Total)
	}

	amount, err := invoices.MinorUnits(lookup.Total, r.cfg.MinorUnitScale)
	if err != nil {
		r.metrics.ObservePaymentOrder("rejected")
		return nil, err
	}

	order, err := r.gateway.CreateOrder(ctx, OrderRequest{
		AmountMinorUnits: amount,
		Currency:         r.cfg.Currency,
		Receipt:          receiptFor(appointmentID),
		Notes:            map[string]string{"appointment_id": appointmentID},
	})
	if err != nil {
		span.RecordError(err)
		r.metrics.ObservePaymentOrder("error")
		return nil, err
	}
	if err := r.orders.Save(ctx, OrderRecord{
		OrderID:          order.ID,
		AppointmentID:    appointmentID,
		AmountMinorUnits: order.AmountMinorUnits,
		Currency:         order.Currency,
		Gateway:          r.gateway.Name(),
	}); err != nil {
		// Never hand out an order we cannot match on confirmation.
		span.RecordError(err)
		r.metrics.ObservePaymentOrder("error")
		return nil, &NetworkError{Op: "record payment order", Err: err}
	}
	r.metrics.ObservePaymentOrder("ok")
	r.record(ctx, "payment.order_created", appointmentID, map[string]any{
		"order_id":           order.ID,
		"gateway":            r.gateway.Name(),
		"amount_minor_units": order.AmountMinorUnits,
	})
	r.logger.Info("payment order created", "appointment_id", appointmentID, "order_id", order.ID, "amount_minor_units", order.AmountMinorUnits)

	return &PaymentOrder{
		AppointmentID:    appointmentID,
		OrderID:          order.ID,
		AmountMinorUnits: order.AmountMinorUnits,
		Currency:         order.Currency,
		KeyID:            r.gateway.KeyID(),
		Gateway:          r.gateway.Name(),
		ClinicName:       r.cfg.ClinicName,
	}, nil
}

// ConfirmPayment posts a captured payment to the invoice, keyed by the
// gateway payment id so replays are harmless. The payment must match the
// order InitiatePayment recorded: same appointment, same amount, and the
// invoice must still total that amount. When posting fails the caller gets
// a CaptureMismatchError and nothing is refreshed.
func (r *Reconciler) ConfirmPayment(ctx context.Context, c Confirmation) (*Snapshot, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.appointment_id", c.AppointmentID),
		attribute.String("clinic.order_id", c.OrderID),
		attribute.String("clinic.payment_id", c.PaymentID),
		attribute.String("clinic.payment_source", c.Source),
	)

	c.AppointmentID = strings.TrimSpace(c.AppointmentID)
	var problems []invoices.FieldError
	if strings.TrimSpace(c.PaymentID) == "" {
		problems = append(problems, invoices.FieldError{Field: "payment_id", Problem: "required"})
	}
	if strings.TrimSpace(c.OrderID) == "" {
		problems = append(problems, invoices.FieldError{Field: "order_id", Problem: "required"})
	}
	if len(problems) > 0 {
		return nil, &invoices.ValidationError{Problems: problems}
	}

	order, err := r.orders.Get(ctx, c.OrderID)
	switch {
	case errors.Is(err, ErrUnknownOrder):
		return nil, r.mismatch(ctx, span, c, err)
	case err != nil:
		span.RecordError(err)
		return nil, &NetworkError{Op: "load payment order", Err: err}
	}
	if c.AppointmentID == "" {
		c.AppointmentID = order.AppointmentID
	}
	if err := checkOrder(order, c); err != nil {
		return nil, r.mismatch(ctx, span, c, err)
	}

	amount := decimal.New(order.AmountMinorUnits, 0).Div(decimal.NewFromInt(int64(r.cfg.MinorUnitScale)))
	inv, err := r.invoices.SettlePayment(ctx, c.AppointmentID, c.PaymentID, c.Source, amount)
	if err != nil {
		return nil, r.mismatch(ctx, span, c, err)
	}
	r.metrics.ObserveConfirmation(c.Source, "ok")

	paidAt := r.now().UTC()
	if inv.PaidAt != nil {
		paidAt = inv.PaidAt.UTC()
	}
	if _, err := r.enqueue(ctx, c.AppointmentID, events.InvoicePaidV1{
		AppointmentID:    c.AppointmentID,
		PaymentReference: c.PaymentID,
		Source:           c.Source,
		OrderID:          c.OrderID,
		AmountMinorUnits: order.AmountMinorUnits,
		Currency:         order.Currency,
		PaidAt:           paidAt,
	}); err != nil {
		// The invoice is paid; a retry re-enqueues under the same id.
		span.RecordError(err)
		return nil, &NetworkError{Op: "enqueue invoice.paid", Err: err}
	}

	snap, err := r.Load(ctx, c.AppointmentID)
	if err != nil {
		// The payment is recorded; only the refresh failed.
		r.logger.Warn("post-payment refresh failed", "appointment_id", c.AppointmentID, "error", err)
		return &Snapshot{State: invoices.StateOf(inv), Invoice: inv, Total: inv.Total()}, nil
	}
	return snap, nil
}

func checkOrder(order *OrderRecord, c Confirmation) error {
	switch {
	case order.AppointmentID != c.AppointmentID:
		return fmt.Errorf("%w: order %s belongs to appointment %s", ErrOrderMismatch, order.OrderID, order.AppointmentID)
	case c.AmountMinorUnits != 0 && c.AmountMinorUnits != order.AmountMinorUnits:
		return fmt.Errorf("%w: captured %d, order %d", ErrOrderMismatch, c.AmountMinorUnits, order.AmountMinorUnits)
	case c.Currency != "" && !strings.EqualFold(c.Currency, order.Currency):
		return fmt.Errorf("%w: captured in %s, order in %s", ErrOrderMismatch, c.Currency, order.Currency)
	}
	return nil
}

func (r *Reconciler) mismatch(ctx context.Context, span trace.Span, c Confirmation, cause error) error {
	span.RecordError(cause)
	r.reportMismatch(ctx, c, cause)
	return &CaptureMismatchError{AppointmentID: c.AppointmentID, OrderID: c.OrderID, PaymentID: c.PaymentID, Err: cause}
}

// reportMismatch flags money the gateway holds but the invoice does not
// reflect. Gateway retries of the same payment are audited once.
func (r *Reconciler) reportMismatch(ctx context.Context, c Confirmation, cause error) {
	r.metrics.ObserveConfirmation(c.Source, "mismatch")
	r.metrics.ObserveCaptureMismatch()
	r.logger.Error("payment capture mismatch",
		"appointment_id", c.AppointmentID,
		"order_id", c.OrderID,
		"payment_id", c.PaymentID,
		"source", c.Source,
		"error", cause,
	)
	inserted, err := r.enqueue(ctx, c.AppointmentID, events.PaymentCaptureMismatchV1{
		AppointmentID:    c.AppointmentID,
		OrderID:          c.OrderID,
		PaymentID:        c.PaymentID,
		Source:           c.Source,
		AmountMinorUnits: c.AmountMinorUnits,
		Reason:           cause.Error(),
		OccurredAt:       r.now().UTC(),
	})
	if err != nil {
		r.logger.Error("failed to enqueue capture mismatch", "appointment_id", c.AppointmentID, "payment_id", c.PaymentID, "error", err)
	} else if !inserted {
		return
	}
	r.record(ctx, "payment.capture_mismatch", c.AppointmentID, map[string]any{
		"order_id":   c.OrderID,
		"payment_id": c.PaymentID,
		"source":     c.Source,
		"reason":     cause.Error(),
	})
}

// enqueue reports inserted=true when the event is new, or when there is no
// outbox to dedupe against.
func (r *Reconciler) enqueue(ctx context.Context, appointmentID string, evt events.CanonicalEvent) (bool, error) {
	if r.outbox == nil {
		return true, nil
	}
	_, inserted, err := r.outbox.Insert(ctx, appointmentID, evt)
	if err != nil {
		return false, fmt.Errorf("payments: enqueue %s: %w", evt.EventType(), err)
	}
	return inserted, nil
}

func (r *Reconciler) record(ctx context.Context, eventType, appointmentID string, details any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, eventType, appointmentID, details); err != nil {
		r.logger.Warn("failed to record billing audit event", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}

// receiptFor builds the gateway receipt, which Razorpay caps at 40 chars.
func receiptFor(appointmentID string) string {
	receipt := "apt_" + appointmentID
	if len(receipt) > 40 {
		receipt = receipt[:40]
	}
	return receipt
}
