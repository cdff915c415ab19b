package stripewebhooks

import (
	"context"
	"io"
	"net/http"

	"clinic-booking/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 65536

// Parser verifies and decodes a raw webhook body.
type Parser interface {
	Parse(payload []byte, signature string) (billing.GatewayEvent, error)
}

// EventHandler applies a decoded event.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt billing.GatewayEvent) (billing.Outcome, error)
}

type Handler struct {
	parser Parser
	events EventHandler
	log    zerolog.Logger
}

func NewHandler(parser Parser, events EventHandler, log zerolog.Logger) *Handler {
	return &Handler{parser: parser, events: events, log: log.With().Str("component", "stripe_webhook").Logger()}
}

// Handle receives Stripe events. Rejected bodies get 400 and change nothing;
// anything that passes verification is acknowledged with 200 so Stripe stops
// retrying, even when the event matched no payment.
func (h *Handler) Handle(c *gin.Context) {
	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		h.log.Warn().Err(err).Msg("could not read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook Error: " + err.Error()})
		return
	}

	evt, err := h.parser.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook Error: " + err.Error()})
		return
	}

	// the reconciliation must finish even if Stripe hangs up early
	ctx := context.WithoutCancel(c.Request.Context())
	outcome, err := h.events.HandleEvent(ctx, evt)
	if err != nil {
		h.log.Warn().Err(err).Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("webhook acknowledged without effect")
	} else {
		h.log.Debug().Str("event_id", evt.ID).Str("outcome", string(outcome)).Msg("webhook processed")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
