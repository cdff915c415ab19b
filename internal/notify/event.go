package notify

import (
	"encoding/json"
	"time"

	"clinic-booking/internal/domain/tenant"
)

const (
	TypeAppointmentCreated       = "appointment_created"
	TypeAppointmentStatusUpdated = "appointment_status_updated"
	TypeAppointmentDeleted       = "appointment_deleted"
	TypePaymentSessionCreated    = "payment_session_created"
	TypePaymentSucceeded         = "payment_succeeded"
	TypePaymentFailed            = "payment_failed"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is the envelope carried on the bus. It serialises flat as
// {type, ...payload, timestamp}; TenantID only drives stream filtering.
type Event struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
	TenantID  *string
}

func New(eventType string, tenantID *string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

func AppointmentCreated(appointmentID uint, status string, tenantID *string) Event {
	return New(TypeAppointmentCreated, tenantID, map[string]any{
		"appointmentId": appointmentID,
		"status":        status,
	})
}

func AppointmentStatusUpdated(appointmentID uint, status string, tenantID *string) Event {
	return New(TypeAppointmentStatusUpdated, tenantID, map[string]any{
		"appointmentId": appointmentID,
		"status":        status,
	})
}

func AppointmentDeleted(appointmentID uint, tenantID *string) Event {
	return New(TypeAppointmentDeleted, tenantID, map[string]any{
		"appointmentId": appointmentID,
	})
}

func PaymentSessionCreated(paymentID, appointmentID uint, sessionID string, tenantID *string) Event {
	return New(TypePaymentSessionCreated, tenantID, map[string]any{
		"paymentId":     paymentID,
		"appointmentId": appointmentID,
		"sessionId":     sessionID,
	})
}

func PaymentSucceeded(paymentID, appointmentID uint, tenantID *string) Event {
	return New(TypePaymentSucceeded, tenantID, map[string]any{
		"paymentId":     paymentID,
		"appointmentId": appointmentID,
		"paid":          true,
	})
}

func PaymentFailed(paymentID, appointmentID uint, tenantID *string) Event {
	return New(TypePaymentFailed, tenantID, map[string]any{
		"paymentId":     paymentID,
		"appointmentId": appointmentID,
	})
}

// VisibleTo reports whether a subscriber in scope may receive e.
func (e Event) VisibleTo(scope tenant.Scope) bool {
	return scope.Allows(e.TenantID)
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = e.Type
	out["timestamp"] = e.Timestamp.UTC().Format(timestampLayout)
	return json.Marshal(out)
}
