package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway event types the reconciler acts on. Anything else is acknowledged and
// ignored.
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

type CheckoutRequest struct {
	PaymentID     uint
	AppointmentID uint
	TenantID      *string
	Amount        decimal.Decimal
	Currency      string
	Description   string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway opens hosted checkout sessions with the payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// GatewayEvent is a verified (or trusted) provider notification reduced to what
// reconciliation needs.
type GatewayEvent struct {
	ID             string
	Type           string
	SessionID      string
	PaymentStatus  string
	Metadata       map[string]string
	Payload        []byte
	SignatureValid bool
}
