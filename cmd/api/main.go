package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/config"
	"github.com/pondem87/thuso-monorepo-sub000/internal/observability"
	"github.com/pondem87/thuso-monorepo-sub000/internal/persistence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "whatsapp-agent",
		Short:         "WhatsApp dialogue and dispatch service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the webhook, dispatch API and workers",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context())
			},
		},
	)
	return root
}

func bootstrap() (*config.Config, *zap.Logger) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	return cfg, logger
}

func runMigrate(ctx context.Context) error {
	cfg, logger := bootstrap()
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect postgres", zap.Error(err))
		return err
	}
	defer pg.Close()
	if pg.PoolHandle() == nil {
		return errors.New("POSTGRES_DSN is required to run migrations")
	}

	if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
		logger.Error("failed to run migrations", zap.Error(err))
		return err
	}
	logger.Info("migrations applied")
	return nil
}
