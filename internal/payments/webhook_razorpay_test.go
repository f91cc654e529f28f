package payments

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
)

type memoryProcessed struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func newMemoryProcessed() *memoryProcessed {
	return &memoryProcessed{claimed: make(map[string]bool)}
}

func (m *memoryProcessed) Claim(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	key := provider + ":" + eventID
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *memoryProcessed) Release(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, provider+":"+eventID)
	m.released = append(m.released, eventID)
	return nil
}

type stubConfirmer struct {
	calls []Confirmation
	err   error
}

func (s *stubConfirmer) ConfirmPayment(_ context.Context, c Confirmation) (*Snapshot, error) {
	s.calls = append(s.calls, c)
	if s.err != nil {
		return nil, s.err
	}
	return &Snapshot{}, nil
}

const capturedEvent = `{
	"entity": "event",
	"event": "payment.captured",
	"payload": {"payment": {"entity": {
		"id": "pay_1", "order_id": "order_1", "amount": 80000, "currency": "INR",
		"status": "captured", "notes": {"appointment_id": "A-1"}
	}}}
}`

func webhookRequest(gw *FakeGateway, body, eventID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString(body))
	req.Header.Set("X-Razorpay-Signature", gw.SignWebhook([]byte(body)))
	if eventID != "" {
		req.Header.Set("X-Razorpay-Event-Id", eventID)
	}
	return req
}

func TestRazorpayWebhookConfirmsOnce(t *testing.T) {
	gw := NewFakeGateway("whsec", nil)
	confirmer := &stubConfirmer{}
	processed := newMemoryProcessed()
	h := NewRazorpayWebhookHandler(gw, confirmer, processed, nil, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, capturedEvent, "evt_1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, confirmer.calls, 1)
	assert.Equal(t, Confirmation{
		AppointmentID: "A-1", OrderID: "order_1", PaymentID: "pay_1",
		AmountMinorUnits: 80000, Currency: "INR", Source: "webhook",
	}, confirmer.calls[0])

	rec = httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, capturedEvent, "evt_1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, confirmer.calls, 1)
}

func TestRazorpayWebhookRejectsBadSignature(t *testing.T) {
	gw := NewFakeGateway("whsec", nil)
	confirmer := &stubConfirmer{}
	h := NewRazorpayWebhookHandler(gw, confirmer, newMemoryProcessed(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewBufferString(capturedEvent))
	req.Header.Set("X-Razorpay-Signature", "forged")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, confirmer.calls)
}

func TestRazorpayWebhookFailureReleasesClaimForRetry(t *testing.T) {
	gw := NewFakeGateway("whsec", nil)
	confirmer := &stubConfirmer{err: &CaptureMismatchError{AppointmentID: "A-1", PaymentID: "pay_1", Err: errors.New("db down")}}
	processed := newMemoryProcessed()
	h := NewRazorpayWebhookHandler(gw, confirmer, processed, nil, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, capturedEvent, "evt_1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"evt_1"}, processed.released)

	confirmer.err = nil
	rec = httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, capturedEvent, "evt_1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, confirmer.calls, 2)
}

func TestRazorpayWebhookIgnoresOtherEventsAndMissingOrder(t *testing.T) {
	gw := NewFakeGateway("whsec", nil)
	confirmer := &stubConfirmer{}
	h := NewRazorpayWebhookHandler(gw, confirmer, newMemoryProcessed(), nil, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2"}}}}`, "evt_2"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_3","notes":{}}}}}`, "evt_3"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, confirmer.calls)
}

func TestRazorpayWebhookClaimFailure(t *testing.T) {
	gw := NewFakeGateway("whsec", nil)
	processed := newMemoryProcessed()
	processed.err = errors.New("conn refused")
	h := NewRazorpayWebhookHandler(gw, &stubConfirmer{}, processed, nil, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest(gw, capturedEvent, ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func capturedFor(orderID string, amount int64, note string) string {
	return fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{
		"id":"pay_wh","order_id":%q,"amount":%d,"currency":"INR","status":"captured",
		"notes":{"appointment_id":%q}}}}}`, orderID, amount, note)
}

func TestRazorpayWebhookRejectsUnderpaidCapture(t *testing.T) {
	f := newFixture(t, nil)
	postInvoice(t, f.invoices, item("X-ray", "500"))
	order, err := f.reconciler.InitiatePayment(context.Background(), "A-1")
	require.NoError(t, err)

	processed := newMemoryProcessed()
	h := NewRazorpayWebhookHandler(f.gateway.FakeGateway, f.reconciler, processed, f.metrics, nil)

	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest(f.gateway.FakeGateway, capturedFor(order.OrderID, 100, "A-1"), "evt_under"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"evt_under"}, processed.released)

	lookup, err := f.invoices.Load(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, invoices.StateUnpaid, lookup.State)

	// Without the note the order still identifies the appointment.
	rec = httptest.NewRecorder()
	h.Handle(rec, webhookRequest(f.gateway.FakeGateway, capturedFor(order.OrderID, 50000, ""), "evt_full"))
	assert.Equal(t, http.StatusOK, rec.Code)

	lookup, err = f.invoices.Load(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, invoices.StatePaid, lookup.State)
	assert.Equal(t, "pay_wh", lookup.Invoice.PaymentReference)
}
