package billing

import (
	"time"

	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

// WebhookEvent is the ledger row of one gateway delivery. ProcessedAt is set once
// the event was fully handled, so a re-delivery can be acknowledged untouched.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_webhook_provider_event" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_provider_event" json:"providerEventId"`
	EventType       string         `gorm:"type:varchar(128);not null" json:"eventType"`
	Payload         datatypes.JSON `json:"payload"`
	SignatureValid  bool           `gorm:"not null;default:false" json:"signatureValid"`
	ProcessedAt     *time.Time     `json:"processedAt"`
	ProcessingError string         `json:"processingError"`

	CreatedAt time.Time `json:"createdAt"`
}
