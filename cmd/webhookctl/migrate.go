package main

import (
	"fmt"

	pgStorage "payment-webhook-engine/internal/adapter/storage/postgres"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Apply, roll back or inspect database migrations",
		Long: `Run the embedded goose migrations against the configured PostgreSQL database.

Examples:
  webhookctl migrate up
  webhookctl migrate status -c config/config.yaml`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{pgStorage.MigrateUp, pgStorage.MigrateDown, pgStorage.MigrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := pgStorage.NewPool(cmd.Context(), cfg.Database, log)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			return pgStorage.Migrate(cmd.Context(), pool, args[0], log)
		},
	}
}
