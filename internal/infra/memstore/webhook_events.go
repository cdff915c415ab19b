package memstore

import (
	"context"
	"sync"
	"time"

	"clinic-booking/internal/domain/billing"
)

type WebhookEvents struct {
	mu   sync.Mutex
	seq  uint
	rows map[string]billing.WebhookEvent
}

func NewWebhookEvents() *WebhookEvents {
	return &WebhookEvents{rows: make(map[string]billing.WebhookEvent)}
}

func ledgerKey(provider, eventID string) string { return provider + "/" + eventID }

func (s *WebhookEvents) Processed(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt, ok := s.rows[ledgerKey(provider, eventID)]
	return ok && evt.ProcessedAt != nil, nil
}

// Record inserts the delivery or refreshes the existing row for the same event id.
func (s *WebhookEvents) Record(_ context.Context, evt *billing.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(evt.Provider, evt.ProviderEventID)
	if prev, ok := s.rows[key]; ok {
		evt.ID, evt.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		s.seq++
		evt.ID, evt.CreatedAt = s.seq, time.Now().UTC()
	}
	s.rows[key] = *evt
	return nil
}

func (s *WebhookEvents) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
