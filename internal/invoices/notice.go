package invoices

import (
	"errors"
	"net/http"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
)

// NoticeKind tells the portal how to present a Notice.
type NoticeKind string

const (
	NoticeInfo     NoticeKind = "info"
	NoticeInline   NoticeKind = "inline"
	NoticeRetry    NoticeKind = "retry"
	NoticeCritical NoticeKind = "critical"
)

// NotPostedMessage is shown while reception has not created the invoice.
const NotPostedMessage = "Invoice not yet posted. Please wait until it is uploaded."

// Notice is the user-facing form of an error.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	Message     string     `json:"message"`
	Dismissable bool       `json:"dismissable"`
	Status      int        `json:"-"`
}

// NoticeFor converts invoice and storage errors into a Notice. Unknown
// errors are treated as transient.
func NoticeFor(err error) Notice {
	var verr *ValidationError
	switch {
	case err == nil:
		return Notice{Status: http.StatusOK}
	case errors.As(err, &verr):
		return Notice{Kind: NoticeInline, Message: verr.Message(), Dismissable: true, Status: http.StatusBadRequest}
	case errors.Is(err, ErrNotFound):
		return Notice{Kind: NoticeInfo, Message: NotPostedMessage, Dismissable: true, Status: http.StatusNotFound}
	case errors.Is(err, ErrAlreadyPaid):
		return Notice{Kind: NoticeInline, Message: "This invoice has already been paid and can no longer be changed.", Dismissable: true, Status: http.StatusConflict}
	case errors.Is(err, ErrTotalChanged):
		return Notice{Kind: NoticeInline, Message: "The invoice changed after this payment was started.", Dismissable: true, Status: http.StatusConflict}
	case errors.Is(err, appointments.ErrNotFound):
		return Notice{Kind: NoticeInfo, Message: "Appointment not found.", Dismissable: true, Status: http.StatusNotFound}
	default:
		return Notice{Kind: NoticeRetry, Message: "Unable to reach the billing service. Please try again.", Dismissable: true, Status: http.StatusBadGateway}
	}
}
