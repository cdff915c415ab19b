package gormstore

import (
	"context"

	"clinic-booking/internal/domain/billing"

	"gorm.io/gorm"
)

type Payments struct {
	db *gorm.DB
}

func NewPayments(db *gorm.DB) *Payments {
	return &Payments{db: db}
}

func (s *Payments) Create(ctx context.Context, p *billing.Payment) error {
	return translate(s.db.WithContext(ctx).Create(p).Error, "payment", p.ID)
}

func (s *Payments) Get(ctx context.Context, id uint) (billing.Payment, error) {
	var p billing.Payment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return billing.Payment{}, translate(err, "payment", id)
	}
	return p, nil
}

func (s *Payments) FindBySession(ctx context.Context, sessionID string) (billing.Payment, error) {
	var p billing.Payment
	err := s.db.WithContext(ctx).
		Where("external_session_id = ?", sessionID).
		First(&p).Error
	if err != nil {
		return billing.Payment{}, translate(err, "payment for session", sessionID)
	}
	return p, nil
}

func (s *Payments) ListByAppointment(ctx context.Context, appointmentID uint) ([]billing.Payment, error) {
	var out []billing.Payment
	err := s.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	return out, err
}

func (s *Payments) Mutate(ctx context.Context, id uint, fn func(*billing.Payment) error) (billing.Payment, error) {
	return mutate(ctx, s.db, "payment", id, fn)
}
