package billing

import (
	"net/http"

	"clinic-booking/internal/api/respond"
	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	rec *billing.Reconciler
}

func NewHandler(rec *billing.Reconciler) *Handler {
	return &Handler{rec: rec}
}

type checkoutRequest struct {
	AppointmentID uint            `json:"appointmentId" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// CreateCheckoutSession opens a Stripe Checkout session for an appointment and
// returns the hosted page URL.
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "Missing or invalid appointmentId / amount")
		return
	}

	res, err := h.rec.CreateCheckoutSession(c.Request.Context(), middleware.ScopeFrom(c), billing.CheckoutInput{
		AppointmentID: body.AppointmentID,
		Amount:        body.Amount,
		Currency:      body.Currency,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":       res.Session.URL,
		"id":        res.Session.ID,
		"paymentId": res.PaymentID,
	})
}
