package invoices

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) Record(_ context.Context, eventType, appointmentID string, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, eventType+":"+appointmentID)
	return nil
}

type failingStore struct{ *MemoryStore }

func (failingStore) Get(context.Context, string) (*Invoice, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func boolPtr(b bool) *bool { return &b }

func saveReq(items ...Item) SaveRequest {
	return SaveRequest{AppointmentID: "A-1", InvoiceDate: "2024-01-10", Items: items}
}

func TestServiceLoadNoInvoice(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, nil)

	got, err := svc.Load(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Equal(t, StateNoInvoice, got.State)
	assert.Nil(t, got.Invoice)
	assert.True(t, got.Total.IsZero())
}

func TestServiceLoadStorageFailureIsNotNoInvoiceSilently(t *testing.T) {
	svc := NewService(failingStore{NewMemoryStore()}, nil, nil, nil)

	got, err := svc.Load(context.Background(), "A-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, StateNoInvoice, got.State)
	assert.Nil(t, got.Invoice)
}

func TestServiceSaveCreatesThenUpdates(t *testing.T) {
	audit := &recordingAuditor{}
	svc := NewService(NewMemoryStore(), audit, nil, nil)
	ctx := context.Background()

	inv, created, err := svc.Save(ctx, saveReq(Item{"X-ray", amt("500")}))
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, inv.PaymentStatus)

	inv, created, err = svc.Save(ctx, saveReq(Item{"X-ray", amt("500")}, Item{"Cleaning", amt("300")}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, inv.Items, 2)

	got, err := svc.Load(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, StateUnpaid, got.State)
	assert.True(t, got.Total.Equal(amt("800")))
	assert.Equal(t, []string{"invoice.created:A-1", "invoice.updated:A-1"}, audit.events)
}

func TestServiceSaveRejectsEmptyItems(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, nil)

	_, _, err := svc.Save(context.Background(), saveReq())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, RequiredMessage, verr.Message())

	_, err = store.Get(context.Background(), "A-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceSaveRejectsEditsAfterPayment(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, nil)
	ctx := context.Background()

	_, _, err := svc.Save(ctx, saveReq(Item{"X-ray", amt("500")}))
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, "A-1", "pay_1", "gateway")
	require.NoError(t, err)

	_, _, err = svc.Save(ctx, saveReq(Item{"X-ray", amt("50")}))
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestServiceSaveDeskPayment(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, nil)
	ctx := context.Background()

	req := saveReq(Item{"Filling", amt("1200")})
	req.PaymentStatus = boolPtr(true)
	inv, _, err := svc.Save(ctx, req)
	require.NoError(t, err)
	assert.True(t, inv.PaymentStatus)
	assert.Equal(t, OfflineReference("A-1"), inv.PaymentReference)

	got, err := svc.Load(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, StatePaid, got.State)
}

func TestServiceMarkPaidIdempotency(t *testing.T) {
	audit := &recordingAuditor{}
	svc := NewService(NewMemoryStore(), audit, nil, nil)
	ctx := context.Background()
	_, _, err := svc.Save(ctx, saveReq(Item{"X-ray", amt("500")}))
	require.NoError(t, err)

	first, err := svc.MarkPaid(ctx, "A-1", "pay_1", "callback")
	require.NoError(t, err)
	replay, err := svc.MarkPaid(ctx, "A-1", "pay_1", "webhook")
	require.NoError(t, err)
	assert.Equal(t, first.PaidAt, replay.PaidAt)
	assert.Equal(t, []string{"invoice.created:A-1", "invoice.paid:A-1"}, audit.events, "a replay is not audited again")

	_, err = svc.MarkPaid(ctx, "A-1", "pay_2", "webhook")
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	_, err = svc.MarkPaid(ctx, "A-1", " ", "desk")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestServiceMarkPaidUnknownInvoice(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, nil)
	_, err := svc.MarkPaid(context.Background(), "A-404", "pay_1", "callback")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceSettlePaymentRequiresMatchingTotal(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, nil)
	ctx := context.Background()
	_, _, err := svc.Save(ctx, saveReq(Item{"X-ray", amt("500")}))
	require.NoError(t, err)

	_, err = svc.SettlePayment(ctx, "A-1", "pay_1", "webhook", amt("1"))
	assert.ErrorIs(t, err, ErrTotalChanged)
	got, err := svc.Load(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, StateUnpaid, got.State)

	inv, err := svc.SettlePayment(ctx, "A-1", "pay_1", "webhook", amt("500.00"))
	require.NoError(t, err)
	assert.True(t, inv.PaymentStatus)

	// A replay of the settled payment is not re-checked against the total.
	_, err = svc.SettlePayment(ctx, "A-1", "pay_1", "checkout", amt("1"))
	assert.NoError(t, err)
}
