package routes_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appointmentsapi "clinic-booking/internal/api/appointments"
	billingapi "clinic-booking/internal/api/billing"
	notificationsapi "clinic-booking/internal/api/notifications"
	stripewebhooks "clinic-booking/internal/api/stripewebhook"
	routes "clinic-booking/internal/app/http"
	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/domain/appointments"
	"clinic-booking/internal/domain/billing"
	"clinic-booking/internal/domain/users"
	"clinic-booking/internal/infra/memstore"
	"clinic-booking/internal/infra/stripe"
	"clinic-booking/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v75/webhook"
)

const (
	jwtSecret     = "routes-test-secret"
	webhookSecret = "whsec_routes_test"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeGateway struct {
	mu sync.Mutex
	n  int
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, _ billing.CheckoutRequest) (billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	id := fmt.Sprintf("cs_test_%d", g.n)
	return billing.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

type env struct {
	engine   *gin.Engine
	bus      *notify.Bus
	payments *memstore.Payments
	ledger   *memstore.WebhookEvents
}

func strPtr(s string) *string { return &s }

func newEnv(t *testing.T, streamAuth bool, heartbeat time.Duration) *env {
	t.Helper()
	log := zerolog.Nop()

	dir := memstore.NewUsers(
		users.User{ID: 1, Email: "pat@example.test", Role: users.RolePatient, IsActive: true},
		users.User{ID: 2, Email: "doc@clinic-a.test", Role: users.RoleDoctor, TenantID: strPtr("clinic_a"), IsActive: true},
		users.User{ID: 3, Email: "doc@clinic-b.test", Role: users.RoleDoctor, TenantID: strPtr("clinic_b"), IsActive: true},
		users.User{ID: 4, Email: "desk@clinic-a.test", Role: users.RoleReceptionist, TenantID: strPtr("clinic_a"), IsActive: true},
	)
	bus := notify.NewBus(16, log)
	t.Cleanup(bus.Close)

	payments := memstore.NewPayments()
	ledger := memstore.NewWebhookEvents()
	svc := appointments.NewService(memstore.NewAppointments(), dir, bus, appointments.PolicyStrict, log)
	rec := billing.NewReconciler(billing.Options{
		Payments:     payments,
		Events:       ledger,
		Appointments: svc,
		Gateway:      &fakeGateway{},
		Bus:          bus,
		Timeout:      time.Second,
		Log:          log,
	})

	auth, err := middleware.NewAuthenticator(context.Background(), jwtSecret, "", "", dir, log)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}

	engine := routes.NewEngine(routes.Deps{
		Auth:               auth,
		Appointments:       appointmentsapi.NewHandler(svc),
		Payments:           billingapi.NewHandler(rec),
		Webhook:            stripewebhooks.NewHandler(stripe.NewWebhookVerifier(webhookSecret), rec, log),
		Notifications:      notificationsapi.NewHandler(bus, heartbeat, log),
		StreamRequiresAuth: streamAuth,
		Log:                log,
	})
	return &env{engine: engine, bus: bus, payments: payments, ledger: ledger}
}

func bearer(t *testing.T, p middleware.Principal) string {
	t.Helper()
	tok, err := middleware.IssueToken(jwtSecret, p, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

var (
	deskA  = middleware.Principal{UserID: 4, Role: users.RoleReceptionist, TenantID: "clinic_a"}
	deskB  = middleware.Principal{UserID: 9, Role: users.RoleReceptionist, TenantID: "clinic_b"}
	doctor = middleware.Principal{UserID: 2, Role: users.RoleDoctor, TenantID: "clinic_a"}
	pat    = middleware.Principal{UserID: 1, Role: users.RolePatient}
)

func (e *env) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (e *env) createAppointment(t *testing.T) appointments.Appointment {
	t.Helper()
	w := e.do(t, http.MethodPost, "/appointments", bearer(t, deskA), gin.H{
		"patient_id":           1,
		"doctor_id":            2,
		"appointment_datetime": "2026-11-02T09:30:00",
		"reason":               "check-up <script>alert(1)</script>",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create appointment: %d %s", w.Code, w.Body.String())
	}
	var a appointments.Appointment
	decode(t, w, &a)
	return a
}

// openStream connects an SSE client and returns the decoded data frames.
func openStream(t *testing.T, srv *httptest.Server, auth string) (<-chan map[string]any, *http.Response) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/notifications/stream", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	frames := make(chan map[string]any, 32)
	go func() {
		defer close(frames)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &m); err == nil {
				frames <- m
			}
		}
	}()
	return frames, resp
}

func waitFor(t *testing.T, frames <-chan map[string]any, eventType string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-frames:
			if !ok {
				t.Fatalf("stream closed before %s", eventType)
			}
			if m["type"] == eventType {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func newServer(t *testing.T, e *env) *httptest.Server {
	srv := httptest.NewServer(e.engine)
	t.Cleanup(srv.Close)
	// registered after srv.Close so it runs first and ends open streams
	t.Cleanup(e.bus.Close)
	return srv
}

func completedEvent(eventID, sessionID string, paymentID, appointmentID uint) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": %q,
      "object": "checkout.session",
      "payment_status": "paid",
      "metadata": {"payment_id": "%d", "appointment_id": "%d", "tenant_id": "clinic_a"}
    }
  }
}`, eventID, sessionID, paymentID, appointmentID))
}

func (e *env) postWebhook(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret}).Header
}

func TestHealth(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	a := e.createAppointment(t)

	if a.Status != appointments.StatusPending || a.Paid {
		t.Fatalf("new appointment should be pending and unpaid: %+v", a)
	}
	if a.Reason == nil || strings.Contains(*a.Reason, "<script>") {
		t.Fatalf("reason not sanitized: %v", a.Reason)
	}
	if a.TenantID == nil || *a.TenantID != "clinic_a" {
		t.Fatalf("tenant not stamped: %v", a.TenantID)
	}

	path := fmt.Sprintf("/appointments/%d", a.ID)
	w := e.do(t, http.MethodPut, path+"/status", bearer(t, doctor), gin.H{"status": "accepted"})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	var got appointments.Appointment
	decode(t, w, &got)
	if got.Status != appointments.StatusAccepted {
		t.Fatalf("status = %s", got.Status)
	}

	w = e.do(t, http.MethodPut, path+"/status", bearer(t, doctor), gin.H{"status": "refused"})
	if w.Code != http.StatusConflict {
		t.Fatalf("accepted -> refused under strict policy: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPut, path+"/status", bearer(t, doctor), gin.H{"status": "cancelled"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", w.Code)
	}

	w = e.do(t, http.MethodPut, path, bearer(t, deskA), gin.H{"notes": "bring results", "paid": true})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &got)
	if got.Notes == nil || *got.Notes != "bring results" || got.Paid {
		t.Fatalf("update should merge notes and ignore paid: %+v", got)
	}

	w = e.do(t, http.MethodGet, "/appointments/me", bearer(t, doctor), nil)
	var mine []appointments.Appointment
	decode(t, w, &mine)
	if w.Code != http.StatusOK || len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("doctor list: %d %v", w.Code, mine)
	}

	w = e.do(t, http.MethodDelete, path, bearer(t, deskA), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	if w = e.do(t, http.MethodGet, path, bearer(t, deskA), nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}
}

func TestAppointmentAccessControl(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	a := e.createAppointment(t)
	path := fmt.Sprintf("/appointments/%d", a.ID)

	cases := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"no token", http.MethodGet, "/appointments", "", http.StatusUnauthorized},
		{"patient cannot list", http.MethodGet, "/appointments", bearer(t, pat), http.StatusForbidden},
		{"doctor cannot delete", http.MethodDelete, path, bearer(t, doctor), http.StatusForbidden},
		{"other clinic sees nothing", http.MethodGet, path, bearer(t, deskB), http.StatusNotFound},
		{"bad id", http.MethodGet, "/appointments/abc", bearer(t, deskA), http.StatusBadRequest},
		{"own clinic", http.MethodGet, path, bearer(t, deskA), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := e.do(t, tc.method, tc.path, tc.auth, nil); w.Code != tc.want {
				t.Fatalf("%s %s: got %d want %d (%s)", tc.method, tc.path, w.Code, tc.want, w.Body.String())
			}
		})
	}

	w := e.do(t, http.MethodGet, "/appointments", bearer(t, deskB), nil)
	var list []appointments.Appointment
	decode(t, w, &list)
	if len(list) != 0 {
		t.Fatalf("clinic_b listed clinic_a appointments: %v", list)
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	cases := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing doctor", gin.H{"patient_id": 1, "appointment_datetime": "2026-11-02T09:30:00"}, http.StatusBadRequest},
		{"bad datetime", gin.H{"patient_id": 1, "doctor_id": 2, "appointment_datetime": "next tuesday"}, http.StatusBadRequest},
		{"non pending status", gin.H{"patient_id": 1, "doctor_id": 2, "appointment_datetime": "2026-11-02T09:30:00", "status": "accepted"}, http.StatusBadRequest},
		{"doctor of another clinic", gin.H{"patient_id": 1, "doctor_id": 3, "appointment_datetime": "2026-11-02T09:30:00"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, "/appointments", bearer(t, deskA), tc.body); w.Code != tc.want {
				t.Fatalf("got %d want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestCheckoutAndWebhook(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	srv := newServer(t, e)
	frames, _ := openStream(t, srv, "")

	a := e.createAppointment(t)
	waitFor(t, frames, notify.TypeAppointmentCreated)

	w := e.do(t, http.MethodPost, "/payments/create-session", bearer(t, deskA), []byte(
		fmt.Sprintf(`{"appointmentId": %d, "amount": 45.50, "currency": "eur"}`, a.ID)))
	if w.Code != http.StatusOK {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	var session struct {
		URL       string `json:"url"`
		ID        string `json:"id"`
		PaymentID uint   `json:"paymentId"`
	}
	decode(t, w, &session)
	if session.ID == "" || session.URL == "" || session.PaymentID == 0 {
		t.Fatalf("incomplete session response: %+v", session)
	}
	waitFor(t, frames, notify.TypePaymentSessionCreated)

	payload := completedEvent("evt_1", session.ID, session.PaymentID, a.ID)
	w = e.postWebhook(t, payload, sign(payload))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"received":true`) {
		t.Fatalf("webhook: %d %s", w.Code, w.Body.String())
	}

	evt := waitFor(t, frames, notify.TypePaymentSucceeded)
	if evt["appointmentId"] != float64(a.ID) || evt["paid"] != true {
		t.Fatalf("unexpected payment event: %v", evt)
	}

	w = e.do(t, http.MethodGet, fmt.Sprintf("/appointments/%d", a.ID), bearer(t, deskA), nil)
	var got appointments.Appointment
	decode(t, w, &got)
	if !got.Paid {
		t.Fatalf("appointment not marked paid")
	}

	// replay of the same delivery is acknowledged without a second effect
	w = e.postWebhook(t, payload, sign(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("replay: %d", w.Code)
	}
	if e.ledger.Len() != 1 {
		t.Fatalf("ledger entries = %d, want 1", e.ledger.Len())
	}

	w = e.do(t, http.MethodGet, fmt.Sprintf("/payments/appointment/%d", a.ID), bearer(t, deskA), nil)
	var history []billing.Payment
	decode(t, w, &history)
	if len(history) != 1 || history[0].Status != billing.PaymentSucceeded {
		t.Fatalf("payment history: %+v", history)
	}
	if history[0].ExternalSessionID == nil || *history[0].ExternalSessionID != session.ID {
		t.Fatalf("session id not stored: %+v", history[0])
	}

	w = e.do(t, http.MethodPost, "/payments/create-session", bearer(t, deskA), []byte(
		fmt.Sprintf(`{"appointmentId": %d, "amount": 45.50}`, a.ID)))
	if w.Code != http.StatusConflict {
		t.Fatalf("checkout for a paid appointment: %d %s", w.Code, w.Body.String())
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	a := e.createAppointment(t)

	w := e.do(t, http.MethodPost, "/payments/create-session", bearer(t, deskA), []byte(
		fmt.Sprintf(`{"appointmentId": %d, "amount": 20}`, a.ID)))
	var session struct {
		ID        string `json:"id"`
		PaymentID uint   `json:"paymentId"`
	}
	decode(t, w, &session)

	payload := completedEvent("evt_bad", session.ID, session.PaymentID, a.ID)
	header := sign(payload)
	tampered := bytes.Replace(payload, []byte(`"paid"`), []byte(`"paiD"`), 1)

	for name, tc := range map[string]struct {
		body []byte
		sig  string
	}{
		"tampered body":     {tampered, header},
		"missing signature": {payload, ""},
		"garbage signature": {payload, "t=1,v1=deadbeef"},
	} {
		t.Run(name, func(t *testing.T) {
			w := e.postWebhook(t, tc.body, tc.sig)
			if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Webhook Error") {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}

	if e.ledger.Len() != 0 {
		t.Fatalf("rejected deliveries must not reach the ledger")
	}
	w = e.do(t, http.MethodGet, fmt.Sprintf("/appointments/%d", a.ID), bearer(t, deskA), nil)
	var got appointments.Appointment
	decode(t, w, &got)
	if got.Paid {
		t.Fatalf("appointment paid by a forged event")
	}
	p, err := e.payments.Get(context.Background(), session.PaymentID)
	if err != nil || p.Status != billing.PaymentPending {
		t.Fatalf("payment changed by a forged event: %+v %v", p, err)
	}
}

func TestWebhookUnknownSessionAcknowledged(t *testing.T) {
	e := newEnv(t, false, time.Hour)
	payload := completedEvent("evt_ghost", "cs_unknown", 0, 0)
	w := e.postWebhook(t, payload, sign(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("unknown session should be acknowledged: %d %s", w.Code, w.Body.String())
	}
}

func TestStreamTenantFiltering(t *testing.T) {
	e := newEnv(t, true, time.Hour)
	srv := newServer(t, e)

	resp, err := srv.Client().Get(srv.URL + "/notifications/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stream without token: %d", resp.StatusCode)
	}

	framesA, _ := openStream(t, srv, bearer(t, deskA))
	framesB, _ := openStream(t, srv, bearer(t, deskB))

	e.createAppointment(t)
	waitFor(t, framesA, notify.TypeAppointmentCreated)

	// a clinic_b event proves clinic_b's stream is live and skipped the clinic_a one
	e.bus.Publish(notify.AppointmentDeleted(99, strPtr("clinic_b")))
	select {
	case first := <-framesB:
		if first["type"] != notify.TypeAppointmentDeleted || first["appointmentId"] != float64(99) {
			t.Fatalf("unexpected first frame for clinic_b: %v", first)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("clinic_b stream received nothing")
	}
	select {
	case m := <-framesB:
		t.Fatalf("clinic_b received a foreign event: %v", m)
	default:
	}
}

func TestStreamHeartbeatAndShutdown(t *testing.T) {
	e := newEnv(t, false, 20*time.Millisecond)
	srv := newServer(t, e)

	resp, err := srv.Client().Get(srv.URL + "/notifications/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	deadline := time.After(2 * time.Second)
	for ping := false; !ping; {
		select {
		case l := <-lines:
			ping = strings.HasPrefix(l, ":")
		case <-deadline:
			t.Fatalf("no heartbeat received")
		}
	}

	e.bus.Close()
	deadline = time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				w := e.do(t, http.MethodGet, "/notifications/stream", "", nil)
				if w.Code != http.StatusServiceUnavailable {
					t.Fatalf("subscribe after close: %d", w.Code)
				}
				return
			}
		case <-deadline:
			t.Fatalf("stream did not end after bus close")
		}
	}
}
