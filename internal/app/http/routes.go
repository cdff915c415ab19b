package routes

import (
	"net/http"
	"strings"
	"time"

	appointmentsapi "clinic-booking/internal/api/appointments"
	billingapi "clinic-booking/internal/api/billing"
	notificationsapi "clinic-booking/internal/api/notifications"
	stripewebhooks "clinic-booking/internal/api/stripewebhook"
	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/domain/users"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Deps struct {
	Auth          *middleware.Authenticator
	Appointments  *appointmentsapi.Handler
	Payments      *billingapi.Handler
	Webhook       *stripewebhooks.Handler
	Notifications *notificationsapi.Handler

	// Limiter is optional; nil disables rate limiting.
	Limiter *middleware.IPRateLimiter

	CORSOrigin         string
	StreamRequiresAuth bool
	Log                zerolog.Logger
}

// NewEngine builds the gin engine with the global middleware chain and every route.
func NewEngine(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLog(d.Log))

	if origins := splitOrigins(d.CORSOrigin); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// raw body: the signature covers the exact bytes, so no sanitizer here
	r.POST("/payments/webhook", d.Webhook.Handle)

	if d.StreamRequiresAuth {
		r.GET("/notifications/stream", d.Auth.Authenticate(), d.Notifications.Stream)
	} else {
		r.GET("/notifications/stream", d.Notifications.Stream)
	}

	auth := r.Group("/")
	auth.Use(d.Auth.Authenticate(), middleware.SanitizeInput())

	staff := middleware.RequireRole(users.RoleAdmin, users.RoleReceptionist)
	clinical := middleware.RequireRole(users.RoleAdmin, users.RoleReceptionist, users.RoleDoctor)

	appts := auth.Group("/appointments")
	appts.GET("", staff, d.Appointments.List)
	appts.GET("/me", middleware.RequireRole(users.RoleDoctor), d.Appointments.Mine)
	appts.GET("/doctor/:id", clinical, d.Appointments.ByDoctor)
	appts.GET("/:id", clinical, d.Appointments.Get)
	appts.POST("", staff, d.Appointments.Create)
	appts.PUT("/:id", clinical, d.Appointments.Update)
	appts.PUT("/:id/status", clinical, d.Appointments.SetStatus)
	appts.DELETE("/:id", staff, d.Appointments.Delete)

	payments := auth.Group("/payments", staff)
	payments.POST("/create-session", d.Payments.CreateCheckoutSession)
	payments.GET("/appointment/:id", d.Payments.ListByAppointment)
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
