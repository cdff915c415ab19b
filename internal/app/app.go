// Package app wires configuration, storage, the booking core and the HTTP
// surface into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"clinic-booking/config"
	"clinic-booking/database"
	appointmentsapi "clinic-booking/internal/api/appointments"
	billingapi "clinic-booking/internal/api/billing"
	notificationsapi "clinic-booking/internal/api/notifications"
	stripewebhooks "clinic-booking/internal/api/stripewebhook"
	routes "clinic-booking/internal/app/http"
	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/domain/appointments"
	"clinic-booking/internal/domain/billing"
	"clinic-booking/internal/domain/users"
	"clinic-booking/internal/infra/gormstore"
	"clinic-booking/internal/infra/memstore"
	"clinic-booking/internal/infra/mq"
	"clinic-booking/internal/infra/push"
	"clinic-booking/internal/infra/stripe"
	"clinic-booking/internal/notify"
	"clinic-booking/internal/obs"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

var initTracer = obs.InitTracer

// Stores is the persistence the core runs on.
type Stores struct {
	Appointments appointments.Store
	Payments     billing.Store
	Events       billing.EventLedger
	Users        users.Directory

	close func() error
}

func (s Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores picks the backend from DB_DRIVER. The memory backend keeps
// everything in process and reads its users from SEED_USERS_FILE.
func OpenStores(cfg config.Config, log zerolog.Logger) (Stores, error) {
	if cfg.DBDriver == database.DriverMemory {
		dir := memstore.NewUsers()
		if cfg.SeedUsersFile != "" {
			loaded, err := memstore.LoadUsers(cfg.SeedUsersFile)
			if err != nil {
				return Stores{}, err
			}
			dir = loaded
		}
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return Stores{
			Appointments: memstore.NewAppointments(),
			Payments:     memstore.NewPayments(),
			Events:       memstore.NewWebhookEvents(),
			Users:        dir,
		}, nil
	}

	db, err := database.Open(cfg.DBDriver, cfg.DBURL, log)
	if err != nil {
		return Stores{}, err
	}
	if err := database.Migrate(db); err != nil {
		return Stores{}, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return Stores{}, fmt.Errorf("sql handle: %w", err)
	}
	return Stores{
		Appointments: gormstore.NewAppointments(db),
		Payments:     gormstore.NewPayments(db),
		Events:       gormstore.NewWebhookEvents(db),
		Users:        gormstore.NewUsers(db),
		close:        sqlDB.Close,
	}, nil
}

type App struct {
	cfg    config.Config
	log    zerolog.Logger
	engine *gin.Engine

	bus     *notify.Bus
	limiter *middleware.IPRateLimiter
	stores  Stores
	sinks   []notify.Sink
	closers []func() error

	shutdownTracer func(context.Context) error
}

// New builds the application. The caller owns the returned App and must call
// Run or Close.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracer, err := initTracer(ctx, cfg.OTLPEndpoint, cfg.AppEnv, Version)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:            cfg,
		log:            log,
		shutdownTracer: shutdownTracer,
	}

	policy, err := appointments.ParsePolicy(cfg.AppointmentStatusPolicy)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("APPOINTMENT_STATUS_POLICY: %w", err)
	}

	stores, err := OpenStores(cfg, log)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.stores = stores
	a.bus = notify.NewBus(cfg.NotifyBuffer, log)

	auth, err := middleware.NewAuthenticator(ctx, cfg.JWTSecret, cfg.OIDCIssuer, cfg.OIDCClientID, stores.Users, log)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	svc := appointments.NewService(stores.Appointments, stores.Users, a.bus, policy, log)

	opts := billing.Options{
		Payments:     stores.Payments,
		Events:       stores.Events,
		Appointments: svc,
		Bus:          a.bus,
		Timeout:      cfg.StripeTimeout,
		Log:          log,
	}
	if gw := stripe.NewGateway(cfg.StripeSecretKey, cfg.FrontendURL, cfg.StripeTimeout); gw != nil {
		opts.Gateway = gw
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, checkout sessions are disabled")
	}
	rec := billing.NewReconciler(opts)

	verifier := stripe.NewWebhookVerifier(cfg.StripeWebhookSecret)
	if !verifier.Verifies() {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, webhook signatures are NOT verified")
	}

	if cfg.RateLimitRPS > 0 {
		a.limiter = middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	a.engine = routes.NewEngine(routes.Deps{
		Auth:               auth,
		Appointments:       appointmentsapi.NewHandler(svc),
		Payments:           billingapi.NewHandler(rec),
		Webhook:            stripewebhooks.NewHandler(verifier, rec, log),
		Notifications:      notificationsapi.NewHandler(a.bus, cfg.NotifyHeartbeat, log),
		Limiter:            a.limiter,
		CORSOrigin:         cfg.CORSOrigin,
		StreamRequiresAuth: cfg.NotifyRequireAuth,
		Log:                log,
	})

	if err := a.openSinks(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) Engine() *gin.Engine { return a.engine }

func (a *App) openSinks(ctx context.Context) error {
	if a.cfg.RabbitURL != "" {
		pub, err := mq.NewPublisher(a.cfg.RabbitURL, a.cfg.RabbitExchange)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, pub)
		a.closers = append(a.closers, pub.Close)
	}
	if a.cfg.FirebaseCredentials != "" {
		fcm, err := push.NewFCM(ctx, a.cfg.FirebaseCredentials)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, fcm)
	}
	return nil
}

// startRelays attaches every sink before the server accepts requests, so no
// event is published ahead of a relay subscription.
func (a *App) startRelays(ctx context.Context) {
	for _, sink := range a.sinks {
		if _, err := notify.StartRelay(ctx, a.bus, sink, a.log); err != nil {
			a.log.Error().Err(err).Str("sink", sink.Name()).Msg("relay not started")
		}
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down: the bus first so open
// SSE streams end, then the server, then storage.
func (a *App) Run(ctx context.Context) error {
	a.startRelays(ctx)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Str("version", Version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = a.Close(context.Background())
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	a.bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return a.Close(shutdownCtx)
}

// Close releases everything New acquired. It is safe to call after Run.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		a.bus.Close()
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	errs = append(errs, a.stores.Close())
	a.stores.close = nil
	if a.shutdownTracer != nil {
		errs = append(errs, a.shutdownTracer(ctx))
		a.shutdownTracer = nil
	}
	return errors.Join(errs...)
}
