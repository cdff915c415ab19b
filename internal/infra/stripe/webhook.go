package stripe

import (
	"encoding/json"
	"fmt"

	"clinic-booking/internal/domain/apperr"
	"clinic-booking/internal/domain/billing"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

// WebhookVerifier turns a raw webhook body into a billing.GatewayEvent. With a
// secret it checks the Stripe-Signature header; without one the body is trusted.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

func (v *WebhookVerifier) Verifies() bool { return v.secret != "" }

func (v *WebhookVerifier) Parse(payload []byte, signature string) (billing.GatewayEvent, error) {
	var (
		event stripe.Event
		err   error
	)
	if v.secret != "" {
		event, err = webhook.ConstructEventWithOptions(payload, signature, v.secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return billing.GatewayEvent{}, fmt.Errorf("%w: %v", apperr.ErrSignatureInvalid, err)
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return billing.GatewayEvent{}, fmt.Errorf("%w: malformed event: %v", apperr.ErrInvalid, err)
	}

	out := billing.GatewayEvent{
		ID:             event.ID,
		Type:           string(event.Type),
		Payload:        payload,
		SignatureValid: v.secret != "",
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case billing.EventCheckoutCompleted, billing.EventCheckoutAsyncSucceeded,
		billing.EventCheckoutExpired, billing.EventCheckoutAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return billing.GatewayEvent{}, fmt.Errorf("%w: malformed checkout session: %v", apperr.ErrInvalid, err)
		}
		out.SessionID = session.ID
		out.PaymentStatus = NormalizePaymentStatus(string(session.PaymentStatus))
		out.Metadata = session.Metadata
	}
	return out, nil
}
