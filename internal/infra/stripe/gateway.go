package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinic-booking/internal/domain/apperr"
	"clinic-booking/internal/domain/billing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v75"
	checkoutsession "github.com/stripe/stripe-go/v75/checkout/session"
)

// Gateway opens Stripe Checkout sessions for consultation payments.
type Gateway struct {
	sessions    checkoutsession.Client
	frontendURL string
}

// NewGateway returns nil when no secret key is configured, so the reconciler
// reports checkout as unavailable instead of calling Stripe unauthenticated.
func NewGateway(secretKey, frontendURL string, timeout time.Duration) *Gateway {
	if strings.TrimSpace(secretKey) == "" {
		return nil
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	})
	return &Gateway{
		sessions:    checkoutsession.Client{B: backend, Key: secretKey},
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (billing.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(g.frontendURL + "/payments/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(g.frontendURL + "/payments/cancel"),
		ClientReferenceID:  stripe.String(fmt.Sprint(req.PaymentID)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	for k, v := range Metadata(req) {
		params.AddMetadata(k, v)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return billing.CheckoutSession{}, classify(err)
	}
	return billing.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// Metadata is attached to the session so webhooks can be correlated even when
// the session id was never stored.
func Metadata(req billing.CheckoutRequest) map[string]string {
	md := map[string]string{
		"appointment_id": fmt.Sprint(req.AppointmentID),
		"payment_id":     fmt.Sprint(req.PaymentID),
	}
	if req.TenantID != nil {
		md["tenant_id"] = *req.TenantID
	}
	return md
}

// MinorUnits converts an amount to cents, rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func classify(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeInvalidRequest {
		return fmt.Errorf("%w: stripe: %s", apperr.ErrInvalid, serr.Msg)
	}
	return fmt.Errorf("%w: stripe: %v", apperr.ErrUnavailable, err)
}
