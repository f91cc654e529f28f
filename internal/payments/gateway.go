package payments

import "context"

// OrderRequest asks the gateway for a new order. Amount is in minor
// units (paise for INR).
type OrderRequest struct {
	AmountMinorUnits int64
	Currency         string
	Receipt          string
	Notes            map[string]string
}

// Order is the gateway's handle for one payment attempt. It is not
// persisted locally.
type Order struct {
	ID               string `json:"order_id"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	Receipt          string `json:"receipt,omitempty"`
}

// Gateway is the external payment provider.
type Gateway interface {
	Name() string
	// KeyID is the public key the portal's checkout widget needs.
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// VerifyPayment checks the signature the checkout widget hands back
	// on success.
	VerifyPayment(orderID, paymentID, signature string) bool
	// VerifyWebhook checks a server-to-server event body.
	VerifyWebhook(body []byte, signature string) bool
}
