package appointments

import (
	"net/http"

	"clinic-booking/internal/api/respond"
	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/domain/appointments"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *appointments.Service
}

func NewHandler(svc *appointments.Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	PatientID           uint    `json:"patient_id" binding:"required"`
	DoctorID            uint    `json:"doctor_id" binding:"required"`
	AppointmentDatetime string  `json:"appointment_datetime"`
	Reason              *string `json:"reason"`
	Notes               *string `json:"notes"`
	Status              string  `json:"status"`
}

// updateRequest has no paid field: payment state only changes through reconciliation.
type updateRequest struct {
	AppointmentDatetime *string `json:"appointment_datetime"`
	Reason              *string `json:"reason"`
	Notes               *string `json:"notes"`
	Status              *string `json:"status"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), middleware.ScopeFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Mine lists the appointments of the calling doctor.
func (h *Handler) Mine(c *gin.Context) {
	doctorID := c.GetUint(middleware.KeyUserID)
	if doctorID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}
	list, err := h.svc.ListByDoctor(c.Request.Context(), middleware.ScopeFrom(c), doctorID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) ByDoctor(c *gin.Context) {
	doctorID, err := respond.ID(c, "id")
	if err != nil {
		respond.Error(c, err)
		return
	}
	list, err := h.svc.ListByDoctor(c.Request.Context(), middleware.ScopeFrom(c), doctorID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := respond.ID(c, "id")
	if err != nil {
		respond.Error(c, err)
		return
	}
	a, err := h.svc.Get(c.Request.Context(), middleware.ScopeFrom(c), id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) Create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "Missing or invalid patient_id / doctor_id")
		return
	}

	a, err := h.svc.Create(c.Request.Context(), middleware.ScopeFrom(c), appointments.CreateInput{
		PatientID: body.PatientID,
		DoctorID:  body.DoctorID,
		Datetime:  body.AppointmentDatetime,
		Reason:    body.Reason,
		Notes:     body.Notes,
		Status:    body.Status,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := respond.ID(c, "id")
	if err != nil {
		respond.Error(c, err)
		return
	}
	var body updateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "Malformed update body")
		return
	}

	a, err := h.svc.Update(c.Request.Context(), middleware.ScopeFrom(c), id, appointments.UpdateInput{
		Datetime: body.AppointmentDatetime,
		Reason:   body.Reason,
		Notes:    body.Notes,
		Status:   body.Status,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) SetStatus(c *gin.Context) {
	id, err := respond.ID(c, "id")
	if err != nil {
		respond.Error(c, err)
		return
	}
	var body statusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "Missing status")
		return
	}

	a, err := h.svc.SetStatus(c.Request.Context(), middleware.ScopeFrom(c), id, body.Status)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := respond.ID(c, "id")
	if err != nil {
		respond.Error(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), middleware.ScopeFrom(c), id); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Appointment deleted", "id": id})
}
