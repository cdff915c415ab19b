package billing

import (
	"net/http"

	"clinic-booking/internal/api/respond"
	"clinic-booking/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

// ListByAppointment returns the payment history of an appointment, newest first.
func (h *Handler) ListByAppointment(c *gin.Context) {
	id, err := respond.ID(c, "id")
	if err != nil {
		respond.Error(c, err)
		return
	}

	payments, err := h.rec.ListByAppointment(c.Request.Context(), middleware.ScopeFrom(c), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}
