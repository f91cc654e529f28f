package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

var paymentsTracer = otel.Tracer("clinic.internal.payments")

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway creates orders and verifies callbacks against Razorpay.
type RazorpayGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
	orders        orderCreator
	logger        *logging.Logger
}

func NewRazorpayGateway(keyID, keySecret, webhookSecret string, logger *logging.Logger) (*RazorpayGateway, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return nil, errors.New("payments: razorpay key id and secret required")
	}
	client := razorpay.NewClient(keyID, keySecret)
	return newRazorpayGateway(keyID, keySecret, webhookSecret, client.Order, logger), nil
}

func newRazorpayGateway(keyID, keySecret, webhookSecret string, orders orderCreator, logger *logging.Logger) *RazorpayGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &RazorpayGateway{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		orders:        orders,
		logger:        logger,
	}
}

func (g *RazorpayGateway) Name() string  { return "razorpay" }
func (g *RazorpayGateway) KeyID() string { return g.keyID }

// CreateOrder registers an order for req.AmountMinorUnits.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	_, span := paymentsTracer.Start(ctx, "payments.razorpay.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("clinic.amount_minor_units", req.AmountMinorUnits),
		attribute.String("clinic.receipt", req.Receipt),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AmountMinorUnits <= 0 {
		return nil, fmt.Errorf("payments: order amount must be positive")
	}

	data := map[string]interface{}{
		"amount":   req.AmountMinorUnits,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := g.orders.Create(data, nil)
	if err != nil {
		span.RecordError(err)
		g.logger.Error("razorpay order create failed", "receipt", req.Receipt, "error", err)
		return nil, &NetworkError{Op: "create razorpay order", Err: errors.Join(ErrGatewayUnavailable, err)}
	}

	id, _ := body["id"].(string)
	if id == "" {
		return nil, &NetworkError{Op: "create razorpay order", Err: errors.Join(ErrGatewayUnavailable, errors.New("response missing order id"))}
	}
	order := &Order{
		ID:               id,
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Receipt:          req.Receipt,
	}
	// JSON numbers decode as float64.
	if amount, ok := body["amount"].(float64); ok {
		order.AmountMinorUnits = int64(amount)
	}
	if currency, ok := body["currency"].(string); ok && currency != "" {
		order.Currency = currency
	}
	return order, nil
}

// VerifyPayment checks razorpay_signature = HMAC-SHA256(order_id|payment_id).
func (g *RazorpayGateway) VerifyPayment(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	attrs := map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}
	return utils.VerifyPaymentSignature(attrs, signature, g.keySecret)
}

func (g *RazorpayGateway) VerifyWebhook(body []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, g.webhookSecret)
}
