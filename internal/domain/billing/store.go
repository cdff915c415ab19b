package billing

import "context"

// Store persists payments. As with appointments, every change goes through Mutate,
// which serialises read-modify-write per payment.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id uint) (Payment, error)
	FindBySession(ctx context.Context, sessionID string) (Payment, error)
	ListByAppointment(ctx context.Context, appointmentID uint) ([]Payment, error)
	Mutate(ctx context.Context, id uint, fn func(*Payment) error) (Payment, error)
}

// EventLedger remembers gateway deliveries by provider event id.
type EventLedger interface {
	Processed(ctx context.Context, provider, eventID string) (bool, error)
	Record(ctx context.Context, evt *WebhookEvent) error
}
