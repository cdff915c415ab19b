package gormstore

import (
	"context"

	"clinic-booking/internal/domain/appointments"

	"gorm.io/gorm"
)

type Appointments struct {
	db *gorm.DB
}

func NewAppointments(db *gorm.DB) *Appointments {
	return &Appointments{db: db}
}

func (s *Appointments) Create(ctx context.Context, a *appointments.Appointment) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *Appointments) Get(ctx context.Context, id uint) (appointments.Appointment, error) {
	var a appointments.Appointment
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return appointments.Appointment{}, translate(err, "appointment", id)
	}
	return a, nil
}

func (s *Appointments) List(ctx context.Context, f appointments.Filter) ([]appointments.Appointment, error) {
	q := s.db.WithContext(ctx).Model(&appointments.Appointment{})
	if f.Scope.Scoped() {
		q = q.Where("tenant_id = ?", f.Scope.TenantID)
	}
	if f.DoctorID != nil {
		q = q.Where("doctor_id = ?", *f.DoctorID)
	}

	var out []appointments.Appointment
	if err := q.Order("appointment_datetime ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Appointments) Mutate(ctx context.Context, id uint, fn func(*appointments.Appointment) error) (appointments.Appointment, error) {
	return mutate(ctx, s.db, "appointment", id, fn)
}

func (s *Appointments) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&appointments.Appointment{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "appointment", id)
	}
	return nil
}
