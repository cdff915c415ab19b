package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

type Payment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	AppointmentID     uint            `gorm:"not null;index" json:"appointmentId"`
	Amount            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'eur'" json:"currency"`
	Status            PaymentStatus   `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ExternalSessionID *string         `gorm:"column:external_session_id;uniqueIndex" json:"externalSessionId"`
	TenantID          *string         `gorm:"column:tenant_id;index" json:"tenantId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
