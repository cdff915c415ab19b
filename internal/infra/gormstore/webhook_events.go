package gormstore

import (
	"context"

	"clinic-booking/internal/domain/billing"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEvents struct {
	db *gorm.DB
}

func NewWebhookEvents(db *gorm.DB) *WebhookEvents {
	return &WebhookEvents{db: db}
}

func (s *WebhookEvents) Processed(ctx context.Context, provider, eventID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&billing.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ? AND processed_at IS NOT NULL", provider, eventID).
		Count(&n).Error
	return n > 0, err
}

// Record upserts on (provider, provider_event_id) so a re-delivery updates the
// outcome of the earlier attempt.
func (s *WebhookEvents) Record(ctx context.Context, evt *billing.WebhookEvent) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"event_type", "payload", "signature_valid", "processed_at", "processing_error",
			}),
		}).
		Create(evt).Error
}
