package appointments

import (
	"context"
	"time"

	"clinic-booking/internal/domain/tenant"
)

type Appointment struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	PatientID           uint      `gorm:"not null;index" json:"patient_id"`
	DoctorID            uint      `gorm:"not null;index" json:"doctor_id"`
	AppointmentDatetime time.Time `gorm:"not null;index" json:"appointment_datetime"`
	Reason              *string   `json:"reason"`
	Notes               *string   `json:"notes"`
	Status              Status    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Paid                bool      `gorm:"not null;default:false" json:"paid"`
	TenantID            *string   `gorm:"column:tenant_id;index" json:"tenantId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Filter struct {
	Scope    tenant.Scope
	DoctorID *uint
}

// Store persists appointments. Mutate is the only way to change a stored record:
// it loads, calls fn and saves as one unit serialised per record. fn may return
// apperr.ErrSkipWrite to leave the record as it is.
type Store interface {
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uint) (Appointment, error)
	List(ctx context.Context, f Filter) ([]Appointment, error)
	Mutate(ctx context.Context, id uint, fn func(*Appointment) error) (Appointment, error)
	Delete(ctx context.Context, id uint) error
}
