package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinic-booking/internal/domain/apperr"
	"clinic-booking/internal/domain/tenant"
	"clinic-booking/internal/domain/users"
	"clinic-booking/internal/notify"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("clinic-booking/appointments")

type CreateInput struct {
	PatientID uint
	DoctorID  uint
	Datetime  string
	Reason    *string
	Notes     *string
	Status    string
}

// UpdateInput carries a partial update. Nil fields are left untouched.
type UpdateInput struct {
	Datetime *string
	Reason   *string
	Notes    *string
	Status   *string
}

type Service struct {
	store  Store
	users  users.Directory
	bus    notify.Publisher
	policy Policy
	log    zerolog.Logger
}

func NewService(store Store, dir users.Directory, bus notify.Publisher, policy Policy, log zerolog.Logger) *Service {
	if policy == "" {
		policy = PolicyStrict
	}
	return &Service{
		store:  store,
		users:  dir,
		bus:    bus,
		policy: policy,
		log:    log.With().Str("component", "appointments").Logger(),
	}
}

func (s *Service) Policy() Policy { return s.policy }

// Create books a new pending appointment owned by the caller's clinic.
func (s *Service) Create(ctx context.Context, scope tenant.Scope, in CreateInput) (Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.Create")
	defer span.End()

	if in.Status != "" {
		st, err := ParseStatus(in.Status)
		if err != nil {
			return Appointment{}, fail(span, err)
		}
		if st != StatusPending {
			return Appointment{}, fail(span, fmt.Errorf("%w: new appointments start as pending", apperr.ErrInvalid))
		}
	}

	when, err := ParseDatetime(in.Datetime)
	if err != nil {
		return Appointment{}, fail(span, err)
	}

	if _, err := s.users.FindByID(ctx, in.PatientID); err != nil {
		return Appointment{}, fail(span, lookupErr("patient", in.PatientID, err))
	}
	doctor, err := s.users.FindByID(ctx, in.DoctorID)
	if err != nil {
		return Appointment{}, fail(span, lookupErr("doctor", in.DoctorID, err))
	}
	if doctor.Role != users.RoleDoctor || !scope.Allows(doctor.TenantID) {
		return Appointment{}, fail(span, fmt.Errorf("%w: doctor %d", apperr.ErrNotFound, in.DoctorID))
	}

	a := Appointment{
		PatientID:           in.PatientID,
		DoctorID:            in.DoctorID,
		AppointmentDatetime: when,
		Reason:              in.Reason,
		Notes:               in.Notes,
		Status:              StatusPending,
		Paid:                false,
		TenantID:            scope.Owner(),
	}
	if err := s.store.Create(ctx, &a); err != nil {
		return Appointment{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("appointment.id", int64(a.ID)))

	s.log.Info().Uint("appointment_id", a.ID).Uint("doctor_id", a.DoctorID).Str("tenant", scope.TenantID).Msg("appointment created")
	notify.Emit(s.bus, notify.AppointmentCreated(a.ID, string(a.Status), a.TenantID), s.log)
	return a, nil
}

// SetStatus moves an appointment through the lifecycle under the configured policy.
// Every successful call publishes exactly one status event.
func (s *Service) SetStatus(ctx context.Context, scope tenant.Scope, id uint, status string) (Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.SetStatus", trace.WithAttributes(
		attribute.Int64("appointment.id", int64(id)),
		attribute.String("appointment.status", status),
	))
	defer span.End()

	next, err := ParseStatus(status)
	if err != nil {
		return Appointment{}, fail(span, err)
	}

	a, err := s.store.Mutate(ctx, id, func(a *Appointment) error {
		if !scope.Allows(a.TenantID) {
			return fmt.Errorf("%w: appointment %d", apperr.ErrNotFound, id)
		}
		if !s.policy.Allows(a.Status, next) {
			return fmt.Errorf("%w: appointment %d cannot go from %s to %s", apperr.ErrConflict, id, a.Status, next)
		}
		a.Status = next
		return nil
	})
	if err != nil {
		return Appointment{}, fail(span, err)
	}

	s.log.Info().Uint("appointment_id", id).Str("status", string(a.Status)).Msg("appointment status updated")
	notify.Emit(s.bus, notify.AppointmentStatusUpdated(a.ID, string(a.Status), a.TenantID), s.log)
	return a, nil
}

// Update merges the present fields of in. A status change follows the same rules
// as SetStatus and is only announced when the status actually changed.
func (s *Service) Update(ctx context.Context, scope tenant.Scope, id uint, in UpdateInput) (Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.Update", trace.WithAttributes(attribute.Int64("appointment.id", int64(id))))
	defer span.End()

	var (
		when     *time.Time
		next     Status
		hasNext  bool
		previous Status
	)
	if in.Datetime != nil {
		t, err := ParseDatetime(*in.Datetime)
		if err != nil {
			return Appointment{}, fail(span, err)
		}
		when = &t
	}
	if in.Status != nil {
		st, err := ParseStatus(*in.Status)
		if err != nil {
			return Appointment{}, fail(span, err)
		}
		next, hasNext = st, true
	}

	a, err := s.store.Mutate(ctx, id, func(a *Appointment) error {
		if !scope.Allows(a.TenantID) {
			return fmt.Errorf("%w: appointment %d", apperr.ErrNotFound, id)
		}
		previous = a.Status
		if hasNext {
			if !s.policy.Allows(a.Status, next) {
				return fmt.Errorf("%w: appointment %d cannot go from %s to %s", apperr.ErrConflict, id, a.Status, next)
			}
			a.Status = next
		}
		if when != nil {
			a.AppointmentDatetime = *when
		}
		if in.Reason != nil {
			a.Reason = in.Reason
		}
		if in.Notes != nil {
			a.Notes = in.Notes
		}
		return nil
	})
	if err != nil {
		return Appointment{}, fail(span, err)
	}

	s.log.Info().Uint("appointment_id", id).Msg("appointment updated")
	if hasNext && previous != a.Status {
		notify.Emit(s.bus, notify.AppointmentStatusUpdated(a.ID, string(a.Status), a.TenantID), s.log)
	}
	return a, nil
}

func (s *Service) Delete(ctx context.Context, scope tenant.Scope, id uint) error {
	ctx, span := tracer.Start(ctx, "appointments.Delete", trace.WithAttributes(attribute.Int64("appointment.id", int64(id))))
	defer span.End()

	a, err := s.Get(ctx, scope, id)
	if err != nil {
		return fail(span, err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fail(span, err)
	}

	s.log.Info().Uint("appointment_id", id).Msg("appointment deleted")
	notify.Emit(s.bus, notify.AppointmentDeleted(id, a.TenantID), s.log)
	return nil
}

// Get returns the appointment when it exists and is visible in scope.
func (s *Service) Get(ctx context.Context, scope tenant.Scope, id uint) (Appointment, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if !scope.Allows(a.TenantID) {
		return Appointment{}, fmt.Errorf("%w: appointment %d", apperr.ErrNotFound, id)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, scope tenant.Scope) ([]Appointment, error) {
	return s.store.List(ctx, Filter{Scope: scope})
}

func (s *Service) ListByDoctor(ctx context.Context, scope tenant.Scope, doctorID uint) ([]Appointment, error) {
	return s.store.List(ctx, Filter{Scope: scope, DoctorID: &doctorID})
}

// MarkPaid flips paid to true. It is reserved for payment reconciliation, ignores
// tenant scope and reports whether the flag actually changed.
func (s *Service) MarkPaid(ctx context.Context, id uint) (Appointment, bool, error) {
	ctx, span := tracer.Start(ctx, "appointments.MarkPaid", trace.WithAttributes(attribute.Int64("appointment.id", int64(id))))
	defer span.End()

	changed := false
	a, err := s.store.Mutate(ctx, id, func(a *Appointment) error {
		if a.Paid {
			return apperr.ErrSkipWrite
		}
		a.Paid = true
		changed = true
		return nil
	})
	if err != nil {
		return Appointment{}, false, fail(span, err)
	}
	if changed {
		s.log.Info().Uint("appointment_id", id).Msg("appointment marked paid")
	}
	return a, changed, nil
}

func lookupErr(kind string, id uint, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", apperr.ErrNotFound, kind, id)
	}
	return err
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
