package payments

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
)

var (
	// ErrOrderInFlight rejects a second order request for an appointment
	// while the first has not resolved.
	ErrOrderInFlight = errors.New("payments: order already in flight")
	// ErrStaleResult means the caller went away before the load finished.
	ErrStaleResult = errors.New("payments: stale result discarded")
	// ErrInvalidSignature is returned when a gateway callback fails
	// verification.
	ErrInvalidSignature = errors.New("payments: invalid gateway signature")
	// ErrNothingToPay is returned when there is no unpaid invoice to charge.
	ErrNothingToPay = errors.New("payments: nothing to pay")
	// ErrOrderMismatch means a confirmed payment does not belong to the
	// appointment or amount its order was opened for.
	ErrOrderMismatch = errors.New("payments: payment does not match order")
	// ErrGatewayUnavailable wraps failures talking to the gateway.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// NetworkError wraps a failed call to a collaborator.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("payments: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CaptureMismatchError means the gateway captured funds but the invoice
// could not be marked paid.
type CaptureMismatchError struct {
	AppointmentID string
	OrderID       string
	PaymentID     string
	Err           error
}

func (e *CaptureMismatchError) Error() string {
	return fmt.Sprintf("payments: payment %s captured for appointment %s but invoice update failed: %v", e.PaymentID, e.AppointmentID, e.Err)
}

func (e *CaptureMismatchError) Unwrap() error { return e.Err }

// CaptureMismatchMessage is shown until staff reconcile the payment.
const CaptureMismatchMessage = "Payment succeeded but the invoice could not be updated. Please do not pay again; contact the clinic with your payment ID."

// NoticeFor converts payment errors into a Notice, deferring to the
// invoice mapping for everything else.
func NoticeFor(err error) invoices.Notice {
	var mismatch *CaptureMismatchError
	switch {
	case errors.As(err, &mismatch):
		return invoices.Notice{Kind: invoices.NoticeCritical, Message: CaptureMismatchMessage, Dismissable: false, Status: http.StatusBadGateway}
	case errors.Is(err, ErrOrderInFlight):
		return invoices.Notice{Kind: invoices.NoticeInline, Message: "A payment is already being prepared for this appointment.", Dismissable: true, Status: http.StatusConflict}
	case errors.Is(err, ErrNothingToPay):
		return invoices.Notice{Kind: invoices.NoticeInline, Message: "There is no outstanding amount to pay.", Dismissable: true, Status: http.StatusConflict}
	case errors.Is(err, ErrInvalidSignature):
		return invoices.Notice{Kind: invoices.NoticeInline, Message: "Payment confirmation could not be verified.", Dismissable: true, Status: http.StatusUnauthorized}
	case errors.Is(err, ErrStaleResult):
		return invoices.Notice{Kind: invoices.NoticeRetry, Message: "Request cancelled.", Dismissable: true, Status: 499}
	case errors.Is(err, ErrGatewayUnavailable):
		return invoices.Notice{Kind: invoices.NoticeRetry, Message: "Unable to reach the payment gateway. Please try again.", Dismissable: true, Status: http.StatusBadGateway}
	default:
		return invoices.NoticeFor(err)
	}
}
