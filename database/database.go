package database

import (
	"fmt"
	"strings"

	"clinic-booking/internal/domain/appointments"
	"clinic-booking/internal/domain/billing"
	"clinic-booking/internal/domain/users"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open connects to the configured SQL backend. TranslateError is on so unique
// violations surface as gorm.ErrDuplicatedKey on both drivers.
func Open(driver, dsn string, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverPostgres, "":
		if dsn == "" {
			return nil, fmt.Errorf("DB_URL not set")
		}
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if dsn == "" {
			dsn = "file:clinic.db?_foreign_keys=on"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(gormLogLevel(log)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}

	log.Info().Str("driver", dialector.Name()).Msg("connected to database")
	return db, nil
}

// Migrate creates or updates the booking tables. The users table is owned by the
// account service; it is migrated too so a fresh database is usable on its own.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&users.User{},
		&appointments.Appointment{},
		&billing.Payment{},
		&billing.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func gormLogLevel(log zerolog.Logger) logger.LogLevel {
	switch log.GetLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return logger.Info
	case zerolog.InfoLevel, zerolog.WarnLevel:
		return logger.Warn
	case zerolog.Disabled:
		return logger.Silent
	default:
		return logger.Error
	}
}
