package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"clinic-booking/internal/domain/appointments"
	"clinic-booking/internal/domain/apperr"
	"clinic-booking/internal/domain/tenant"
	"clinic-booking/internal/notify"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCurrency       = "eur"
	DefaultGatewayTimeout = 10 * time.Second
)

var (
	tracer       = otel.Tracer("clinic-booking/billing")
	currencyCode = regexp.MustCompile(`^[a-z]{3}$`)
)

// AppointmentLedger is the slice of the appointment service reconciliation needs.
type AppointmentLedger interface {
	Get(ctx context.Context, scope tenant.Scope, id uint) (appointments.Appointment, error)
	MarkPaid(ctx context.Context, id uint) (appointments.Appointment, bool, error)
}

type Options struct {
	Payments     Store
	Events       EventLedger
	Appointments AppointmentLedger
	Gateway      Gateway
	Bus          notify.Publisher
	Timeout      time.Duration
	Log          zerolog.Logger
}

// Reconciler opens checkout sessions and folds gateway confirmations back into
// payment and appointment state.
type Reconciler struct {
	payments     Store
	events       EventLedger
	appointments AppointmentLedger
	gateway      Gateway
	bus          notify.Publisher
	timeout      time.Duration
	log          zerolog.Logger
}

func NewReconciler(o Options) *Reconciler {
	if o.Timeout <= 0 {
		o.Timeout = DefaultGatewayTimeout
	}
	return &Reconciler{
		payments:     o.Payments,
		events:       o.Events,
		appointments: o.Appointments,
		gateway:      o.Gateway,
		bus:          o.Bus,
		timeout:      o.Timeout,
		log:          o.Log.With().Str("component", "billing").Logger(),
	}
}

type CheckoutInput struct {
	AppointmentID uint
	Amount        decimal.Decimal
	Currency      string
}

type CheckoutResult struct {
	PaymentID uint
	Session   CheckoutSession
}

// CreateCheckoutSession records a pending payment for the appointment and opens a
// hosted checkout session for it. When the gateway cannot be reached the payment
// stays pending without a session id; calling again opens a fresh one.
func (r *Reconciler) CreateCheckoutSession(ctx context.Context, scope tenant.Scope, in CheckoutInput) (CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "billing.CreateCheckoutSession", trace.WithAttributes(
		attribute.Int64("appointment.id", int64(in.AppointmentID)),
	))
	defer span.End()

	if !in.Amount.IsPositive() {
		return CheckoutResult{}, fail(span, fmt.Errorf("%w: amount must be positive", apperr.ErrInvalid))
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if !currencyCode.MatchString(currency) {
		return CheckoutResult{}, fail(span, fmt.Errorf("%w: currency %q is not an ISO-4217 code", apperr.ErrInvalid, in.Currency))
	}

	appt, err := r.appointments.Get(ctx, scope, in.AppointmentID)
	if err != nil {
		return CheckoutResult{}, fail(span, err)
	}
	if appt.Paid {
		return CheckoutResult{}, fail(span, fmt.Errorf("%w: appointment %d is already paid", apperr.ErrConflict, appt.ID))
	}
	p := Payment{
		AppointmentID: appt.ID,
		Amount:        in.Amount.Round(2),
		Currency:      currency,
		Status:        PaymentPending,
		TenantID:      appt.TenantID,
	}
	if err := r.payments.Create(ctx, &p); err != nil {
		return CheckoutResult{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("payment.id", int64(p.ID)))

	// the pending row stays behind so a later call can retry
	if r.gateway == nil {
		r.log.Warn().Uint("payment_id", p.ID).Msg("checkout requested without a payment gateway")
		return CheckoutResult{}, fail(span, fmt.Errorf("%w: payment gateway not configured", apperr.ErrUnavailable))
	}

	gwCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sess, err := r.gateway.CreateCheckoutSession(gwCtx, CheckoutRequest{
		PaymentID:     p.ID,
		AppointmentID: appt.ID,
		TenantID:      appt.TenantID,
		Amount:        p.Amount,
		Currency:      currency,
		Description:   fmt.Sprintf("Consultation #%d", appt.ID),
	})
	if err != nil {
		r.log.Error().Err(err).Uint("payment_id", p.ID).Uint("appointment_id", appt.ID).Msg("checkout session failed")
		if !errors.Is(err, apperr.ErrInvalid) && !errors.Is(err, apperr.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
		}
		return CheckoutResult{}, fail(span, err)
	}

	sessionID := sess.ID
	if _, err := r.payments.Mutate(ctx, p.ID, func(p *Payment) error {
		p.ExternalSessionID = &sessionID
		return nil
	}); err != nil {
		r.log.Error().Err(err).Uint("payment_id", p.ID).Str("session_id", sessionID).Msg("could not store checkout session id")
	}

	r.log.Info().Uint("payment_id", p.ID).Uint("appointment_id", appt.ID).Str("session_id", sessionID).Msg("checkout session created")
	notify.Emit(r.bus, notify.PaymentSessionCreated(p.ID, appt.ID, sessionID, appt.TenantID), r.log)
	return CheckoutResult{PaymentID: p.ID, Session: sess}, nil
}

// Outcome reports what HandleEvent did with a delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeIgnored   Outcome = "ignored"
)

// HandleEvent applies one gateway notification. Deliveries already marked as
// processed in the ledger are skipped. The returned error is for logging: the
// ingress acknowledges the delivery either way.
func (r *Reconciler) HandleEvent(ctx context.Context, evt GatewayEvent) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "billing.HandleEvent", trace.WithAttributes(
		attribute.String("gateway.event_id", evt.ID),
		attribute.String("gateway.event_type", evt.Type),
		attribute.String("gateway.session_id", evt.SessionID),
	))
	defer span.End()

	l := r.log.With().Str("event_id", evt.ID).Str("event_type", evt.Type).Str("session_id", evt.SessionID).Logger()

	if r.events != nil && evt.ID != "" {
		done, err := r.events.Processed(ctx, ProviderStripe, evt.ID)
		if err != nil {
			l.Warn().Err(err).Msg("webhook ledger lookup failed, processing anyway")
		} else if done {
			l.Info().Msg("webhook event already processed")
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := r.apply(ctx, evt)

	if r.events != nil && evt.ID != "" {
		rec := &WebhookEvent{
			Provider:        ProviderStripe,
			ProviderEventID: evt.ID,
			EventType:       evt.Type,
			Payload:         evt.Payload,
			SignatureValid:  evt.SignatureValid,
		}
		if err == nil || errors.Is(err, apperr.ErrNotFound) {
			now := time.Now().UTC()
			rec.ProcessedAt = &now
		}
		if err != nil {
			rec.ProcessingError = err.Error()
		}
		if lerr := r.events.Record(ctx, rec); lerr != nil {
			l.Warn().Err(lerr).Msg("could not record webhook event")
		}
	}

	if err != nil {
		l.Warn().Err(err).Msg("webhook event not applied")
		return outcome, fail(span, err)
	}
	l.Info().Str("outcome", string(outcome)).Msg("webhook event handled")
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, evt GatewayEvent) (Outcome, error) {
	switch evt.Type {
	case EventCheckoutCompleted:
		if evt.PaymentStatus == "unpaid" {
			// async methods confirm later through async_payment_succeeded
			return OutcomeDeferred, nil
		}
		return r.succeed(ctx, evt)
	case EventCheckoutAsyncSucceeded:
		return r.succeed(ctx, evt)
	case EventCheckoutExpired, EventCheckoutAsyncPaymentFailed:
		_, changed, err := r.MarkFailedBySession(ctx, evt.SessionID, evt.Metadata)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !changed {
			return OutcomeDuplicate, nil
		}
		return OutcomeApplied, nil
	default:
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) succeed(ctx context.Context, evt GatewayEvent) (Outcome, error) {
	_, changed, err := r.MarkSucceededBySession(ctx, evt.SessionID, evt.Metadata)
	if err != nil {
		return OutcomeIgnored, err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

// MarkSucceededBySession settles the payment behind a checkout session and flags
// its appointment as paid. A repeated confirmation re-asserts the paid flag
// without announcing anything.
func (r *Reconciler) MarkSucceededBySession(ctx context.Context, sessionID string, metadata map[string]string) (Payment, bool, error) {
	p, err := r.locate(ctx, sessionID, metadata)
	if err != nil {
		return Payment{}, false, err
	}

	changed := false
	p, err = r.payments.Mutate(ctx, p.ID, func(p *Payment) error {
		switch p.Status {
		case PaymentSucceeded:
			return apperr.ErrSkipWrite
		case PaymentFailed:
			return fmt.Errorf("%w: payment %d already failed", apperr.ErrConflict, p.ID)
		}
		p.Status = PaymentSucceeded
		r.stampSession(p, sessionID)
		changed = true
		return nil
	})
	if err != nil {
		return Payment{}, false, err
	}

	appt, _, err := r.appointments.MarkPaid(ctx, p.AppointmentID)
	if err != nil {
		return p, changed, fmt.Errorf("mark appointment %d paid: %w", p.AppointmentID, err)
	}

	if changed {
		r.log.Info().Uint("payment_id", p.ID).Uint("appointment_id", appt.ID).Msg("payment succeeded")
		notify.Emit(r.bus, notify.PaymentSucceeded(p.ID, appt.ID, p.TenantID), r.log)
	}
	return p, changed, nil
}

// MarkFailedBySession closes a pending payment whose session expired or whose
// deferred charge failed. A succeeded payment is never downgraded.
func (r *Reconciler) MarkFailedBySession(ctx context.Context, sessionID string, metadata map[string]string) (Payment, bool, error) {
	p, err := r.locate(ctx, sessionID, metadata)
	if err != nil {
		return Payment{}, false, err
	}

	changed := false
	p, err = r.payments.Mutate(ctx, p.ID, func(p *Payment) error {
		if p.Status.Terminal() {
			return apperr.ErrSkipWrite
		}
		p.Status = PaymentFailed
		r.stampSession(p, sessionID)
		changed = true
		return nil
	})
	if err != nil {
		return Payment{}, false, err
	}

	if changed {
		r.log.Info().Uint("payment_id", p.ID).Uint("appointment_id", p.AppointmentID).Msg("payment failed")
		notify.Emit(r.bus, notify.PaymentFailed(p.ID, p.AppointmentID, p.TenantID), r.log)
	}
	return p, changed, nil
}

// ListByAppointment returns the payments of a visible appointment, newest first.
func (r *Reconciler) ListByAppointment(ctx context.Context, scope tenant.Scope, appointmentID uint) ([]Payment, error) {
	if _, err := r.appointments.Get(ctx, scope, appointmentID); err != nil {
		return nil, err
	}
	all, err := r.payments.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	out := make([]Payment, 0, len(all))
	for _, p := range all {
		if scope.Allows(p.TenantID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// locate finds the payment by session id, falling back to the payment_id the
// session was opened with when the id was never stored.
func (r *Reconciler) locate(ctx context.Context, sessionID string, metadata map[string]string) (Payment, error) {
	var (
		p   Payment
		err error
	)
	if sessionID != "" {
		p, err = r.payments.FindBySession(ctx, sessionID)
	} else {
		err = fmt.Errorf("%w: event carries no session id", apperr.ErrNotFound)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		id, ok := metaUint(metadata, "payment_id")
		if !ok {
			return Payment{}, fmt.Errorf("%w: no payment for session %q", apperr.ErrNotFound, sessionID)
		}
		p, err = r.payments.Get(ctx, id)
	}
	if err != nil {
		return Payment{}, err
	}

	if apptID, ok := metaUint(metadata, "appointment_id"); ok && apptID != p.AppointmentID {
		return Payment{}, fmt.Errorf("%w: payment %d does not belong to appointment %d", apperr.ErrNotFound, p.ID, apptID)
	}
	return p, nil
}

func (r *Reconciler) stampSession(p *Payment, sessionID string) {
	if sessionID == "" {
		return
	}
	if p.ExternalSessionID == nil {
		p.ExternalSessionID = &sessionID
		return
	}
	if *p.ExternalSessionID != sessionID {
		r.log.Warn().Uint("payment_id", p.ID).Str("stored", *p.ExternalSessionID).Str("event", sessionID).Msg("session id mismatch, keeping stored id")
	}
}

func metaUint(metadata map[string]string, key string) (uint, bool) {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
