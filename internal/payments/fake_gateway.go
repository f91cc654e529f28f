package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// FakeGateway is a dev/demo gateway that issues local order ids and
// signs confirmations with a shared secret, so the payment flow can be
// exercised without Razorpay credentials.
//
// This MUST be gated by configuration (ALLOW_FAKE_PAYMENTS) and should
// never be enabled in production.
type FakeGateway struct {
	secret string
	logger *logging.Logger
}

func NewFakeGateway(secret string, logger *logging.Logger) *FakeGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if secret == "" {
		secret = "fake-gateway-secret"
	}
	return &FakeGateway{secret: secret, logger: logger}
}

func (g *FakeGateway) Name() string  { return "fake" }
func (g *FakeGateway) KeyID() string { return "fake_key" }

func (g *FakeGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("payments: fake order amount must be positive")
	}
	order := &Order{
		ID:               "fake_order_" + uuid.NewString(),
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Receipt:          req.Receipt,
	}
	g.logger.Warn("fake gateway order created", "order_id", order.ID, "amount_minor_units", req.AmountMinorUnits)
	return order, nil
}

// Sign returns the signature VerifyPayment accepts for orderID/paymentID.
func (g *FakeGateway) Sign(orderID, paymentID string) string {
	return g.sign([]byte(orderID + "|" + paymentID))
}

// SignWebhook returns the signature VerifyWebhook accepts for body.
func (g *FakeGateway) SignWebhook(body []byte) string {
	return g.sign(body)
}

func (g *FakeGateway) VerifyPayment(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return hmac.Equal([]byte(g.Sign(orderID, paymentID)), []byte(signature))
}

func (g *FakeGateway) VerifyWebhook(body []byte, signature string) bool {
	return hmac.Equal([]byte(g.sign(body)), []byte(signature))
}

func (g *FakeGateway) sign(data []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
