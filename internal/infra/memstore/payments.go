package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinic-booking/internal/domain/apperr"
	"clinic-booking/internal/domain/billing"
)

type Payments struct {
	rows *arena[billing.Payment]
	now  func() time.Time

	// sessions enforces the unique external session id.
	smu      sync.Mutex
	sessions map[string]uint
}

func NewPayments() *Payments {
	return &Payments{
		rows:     newArena[billing.Payment](),
		now:      time.Now,
		sessions: make(map[string]uint),
	}
}

func (s *Payments) Create(_ context.Context, p *billing.Payment) error {
	if p.ExternalSessionID != nil {
		s.smu.Lock()
		defer s.smu.Unlock()
		if _, taken := s.sessions[*p.ExternalSessionID]; taken {
			return fmt.Errorf("%w: session %q already attached to a payment", apperr.ErrConflict, *p.ExternalSessionID)
		}
	}

	now := s.now().UTC()
	*p = s.rows.insert(func(id uint) billing.Payment {
		v := *p
		v.ID = id
		v.CreatedAt, v.UpdatedAt = now, now
		return v
	})
	if p.ExternalSessionID != nil {
		s.sessions[*p.ExternalSessionID] = p.ID
	}
	return nil
}

func (s *Payments) Get(_ context.Context, id uint) (billing.Payment, error) {
	p, ok := s.rows.get(id)
	if !ok {
		return billing.Payment{}, fmt.Errorf("%w: payment %d", apperr.ErrNotFound, id)
	}
	return p, nil
}

func (s *Payments) FindBySession(ctx context.Context, sessionID string) (billing.Payment, error) {
	s.smu.Lock()
	id, ok := s.sessions[sessionID]
	s.smu.Unlock()
	if !ok {
		return billing.Payment{}, fmt.Errorf("%w: payment for session %q", apperr.ErrNotFound, sessionID)
	}
	return s.Get(ctx, id)
}

// ListByAppointment returns newest first.
func (s *Payments) ListByAppointment(_ context.Context, appointmentID uint) ([]billing.Payment, error) {
	keep := func(p billing.Payment) bool { return p.AppointmentID == appointmentID }
	less := func(x, y billing.Payment) bool {
		if !x.CreatedAt.Equal(y.CreatedAt) {
			return x.CreatedAt.After(y.CreatedAt)
		}
		return x.ID > y.ID
	}
	return s.rows.snapshot(keep, less), nil
}

func (s *Payments) Mutate(_ context.Context, id uint, fn func(*billing.Payment) error) (billing.Payment, error) {
	p, found, err := s.rows.mutate(id, func(p *billing.Payment) error {
		before := p.ExternalSessionID
		if err := fn(p); err != nil {
			return err
		}
		p.ID = id
		p.UpdatedAt = s.now().UTC()
		return s.claimSession(id, before, p.ExternalSessionID)
	})
	if !found {
		return billing.Payment{}, fmt.Errorf("%w: payment %d", apperr.ErrNotFound, id)
	}
	return p, err
}

func (s *Payments) claimSession(id uint, before, after *string) error {
	if after == nil || (before != nil && *before == *after) {
		return nil
	}

	s.smu.Lock()
	defer s.smu.Unlock()
	if owner, taken := s.sessions[*after]; taken && owner != id {
		return fmt.Errorf("%w: session %q already attached to payment %d", apperr.ErrConflict, *after, owner)
	}
	if before != nil {
		delete(s.sessions, *before)
	}
	s.sessions[*after] = id
	return nil
}
