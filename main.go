package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic-booking/config"
	"clinic-booking/database"
	"clinic-booking/internal/app"
	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/obs"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinic-booking",
		Short:        "Clinic appointment booking and payment reconciliation API",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	return a.Run(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DBDriver == database.DriverMemory {
				return fmt.Errorf("nothing to migrate for DB_DRIVER=memory")
			}
			log := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

			db, err := database.Open(cfg.DBDriver, cfg.DBURL, log)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.DBDriver).Msg("migration complete")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		p   middleware.Principal
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if p.UserID == 0 {
				return fmt.Errorf("--user-id is required")
			}
			tok, err := middleware.IssueToken(cfg.JWTSecret, p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().UintVar(&p.UserID, "user-id", 0, "user id claim")
	cmd.Flags().StringVar(&p.Role, "role", "receptionist", "role claim (admin, receptionist, doctor, patient)")
	cmd.Flags().StringVar(&p.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&p.TenantID, "tenant", "", "clinic tenant id; empty for platform scope")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
