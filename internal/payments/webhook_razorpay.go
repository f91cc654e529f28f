package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/dental-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

const maxWebhookBody = 1 << 20

type processedTracker interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, c Confirmation) (*Snapshot, error)
}

// RazorpayWebhookHandler applies server-to-server payment events. It
// backs up the checkout callback when the patient's browser never
// returns.
type RazorpayWebhookHandler struct {
	gateway   Gateway
	confirmer paymentConfirmer
	processed processedTracker
	metrics   *metrics.BillingMetrics
	logger    *logging.Logger
}

func NewRazorpayWebhookHandler(gateway Gateway, confirmer paymentConfirmer, processed processedTracker, m *metrics.BillingMetrics, logger *logging.Logger) *RazorpayWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &RazorpayWebhookHandler{
		gateway:   gateway,
		confirmer: confirmer,
		processed: processed,
		metrics:   m,
		logger:    logger,
	}
}

type razorpayEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID       string            `json:"id"`
	OrderID  string            `json:"order_id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

// Handle serves POST /webhooks/razorpay.
func (h *RazorpayWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !h.gateway.VerifyWebhook(payload, r.Header.Get("X-Razorpay-Signature")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var evt razorpayEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode razorpay event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer func() {
		h.metrics.ObserveWebhookLatency(evt.Event, time.Since(start).Seconds())
	}()

	if evt.Event != "payment.captured" {
		w.WriteHeader(http.StatusOK)
		return
	}

	payment := evt.Payload.Payment.Entity
	eventID := strings.TrimSpace(r.Header.Get("X-Razorpay-Event-Id"))
	if eventID == "" {
		eventID = evt.Event + ":" + payment.ID
	}
	if payment.ID == "" {
		http.Error(w, "missing payment id", http.StatusBadRequest)
		return
	}

	// The order record is authoritative; the note only cross-checks it.
	appointmentID := strings.TrimSpace(payment.Notes["appointment_id"])
	if payment.OrderID == "" {
		h.logger.Warn("razorpay webhook payment has no order", "payment_id", payment.ID, "appointment_id", appointmentID)
		w.WriteHeader(http.StatusOK) // acknowledge to avoid retries; cannot progress workflow
		return
	}

	claimed, err := h.processed.Claim(r.Context(), "razorpay", eventID)
	if err != nil {
		h.logger.Error("processed claim failed", "error", err, "event_id", eventID)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !claimed {
		w.WriteHeader(http.StatusOK)
		return
	}

	_, err = h.confirmer.ConfirmPayment(r.Context(), Confirmation{
		AppointmentID:    appointmentID,
		OrderID:          payment.OrderID,
		PaymentID:        payment.ID,
		AmountMinorUnits: payment.Amount,
		Currency:         payment.Currency,
		Source:           "webhook",
	})
	if err != nil {
		if releaseErr := h.processed.Release(r.Context(), "razorpay", eventID); releaseErr != nil {
			h.logger.Error("failed to release webhook claim", "error", releaseErr, "event_id", eventID)
		}
		var mismatch *CaptureMismatchError
		if errors.As(err, &mismatch) {
			h.logger.Error("razorpay webhook could not post payment", "appointment_id", appointmentID, "payment_id", payment.ID, "error", err)
		}
		// A non-2xx makes Razorpay redeliver.
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("razorpay payment captured", "appointment_id", appointmentID, "payment_id", payment.ID, "amount", payment.Amount)
	w.WriteHeader(http.StatusOK)
}
