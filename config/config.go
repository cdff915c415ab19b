package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port   string `envconfig:"PORT" default:"8080"`
	AppEnv string `envconfig:"APP_ENV" default:"dev"`

	// DB
	DBDriver string `envconfig:"DB_DRIVER" default:"postgres"`
	DBURL    string `envconfig:"DB_URL"`

	// Auth boundary
	JWTSecret    string `envconfig:"JWT_SECRET" required:"true"`
	OIDCIssuer   string `envconfig:"OIDC_ISSUER"`
	OIDCClientID string `envconfig:"OIDC_CLIENT_ID"`

	// Stripe
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeTimeout       time.Duration `envconfig:"STRIPE_TIMEOUT" default:"10s"`
	FrontendURL         string        `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`

	CORSOrigin string `envconfig:"CORS_ORIGIN"`

	AppointmentStatusPolicy string `envconfig:"APPOINTMENT_STATUS_POLICY" default:"strict"`

	// Notifications
	NotifyBuffer      int           `envconfig:"NOTIFY_BUFFER" default:"64"`
	NotifyRequireAuth bool          `envconfig:"NOTIFY_REQUIRE_AUTH" default:"false"`
	NotifyHeartbeat   time.Duration `envconfig:"NOTIFY_HEARTBEAT" default:"25s"`

	// Relays
	RabbitURL           string `envconfig:"RABBIT_URL"`
	RabbitExchange      string `envconfig:"RABBIT_EXCHANGE" default:"clinic.events"`
	FirebaseCredentials string `envconfig:"FIREBASE_CREDENTIALS"`

	SeedUsersFile string `envconfig:"SEED_USERS_FILE"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`

	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres":
		if c.DBURL == "" {
			return fmt.Errorf("DB_URL is required for DB_DRIVER=postgres")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres, sqlite or memory, got %q", c.DBDriver)
	}
	if c.NotifyBuffer <= 0 {
		return fmt.Errorf("NOTIFY_BUFFER must be positive")
	}
	if c.NotifyHeartbeat <= 0 {
		return fmt.Errorf("NOTIFY_HEARTBEAT must be positive")
	}
	if c.StripeTimeout <= 0 {
		return fmt.Errorf("STRIPE_TIMEOUT must be positive")
	}
	if (c.OIDCIssuer == "") != (c.OIDCClientID == "") {
		return fmt.Errorf("OIDC_ISSUER and OIDC_CLIENT_ID must be set together")
	}
	return nil
}

func (c Config) IsDev() bool { return c.AppEnv == "dev" || c.AppEnv == "development" }
