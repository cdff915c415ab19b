package memstore

import (
	"context"
	"fmt"
	"time"

	"clinic-booking/internal/domain/appointments"
	"clinic-booking/internal/domain/apperr"
)

type Appointments struct {
	rows *arena[appointments.Appointment]
	now  func() time.Time
}

func NewAppointments() *Appointments {
	return &Appointments{rows: newArena[appointments.Appointment](), now: time.Now}
}

func (s *Appointments) Create(_ context.Context, a *appointments.Appointment) error {
	now := s.now().UTC()
	*a = s.rows.insert(func(id uint) appointments.Appointment {
		v := *a
		v.ID = id
		v.CreatedAt, v.UpdatedAt = now, now
		return v
	})
	return nil
}

func (s *Appointments) Get(_ context.Context, id uint) (appointments.Appointment, error) {
	a, ok := s.rows.get(id)
	if !ok {
		return appointments.Appointment{}, fmt.Errorf("%w: appointment %d", apperr.ErrNotFound, id)
	}
	return a, nil
}

func (s *Appointments) List(_ context.Context, f appointments.Filter) ([]appointments.Appointment, error) {
	keep := func(a appointments.Appointment) bool {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			return false
		}
		return f.Scope.Allows(a.TenantID)
	}
	less := func(x, y appointments.Appointment) bool {
		if !x.AppointmentDatetime.Equal(y.AppointmentDatetime) {
			return x.AppointmentDatetime.Before(y.AppointmentDatetime)
		}
		return x.ID < y.ID
	}
	return s.rows.snapshot(keep, less), nil
}

func (s *Appointments) Mutate(_ context.Context, id uint, fn func(*appointments.Appointment) error) (appointments.Appointment, error) {
	a, found, err := s.rows.mutate(id, func(a *appointments.Appointment) error {
		if err := fn(a); err != nil {
			return err
		}
		a.ID = id
		a.UpdatedAt = s.now().UTC()
		return nil
	})
	if !found {
		return appointments.Appointment{}, fmt.Errorf("%w: appointment %d", apperr.ErrNotFound, id)
	}
	return a, err
}

func (s *Appointments) Delete(_ context.Context, id uint) error {
	if !s.rows.remove(id) {
		return fmt.Errorf("%w: appointment %d", apperr.ErrNotFound, id)
	}
	return nil
}
