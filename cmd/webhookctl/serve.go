package main

import (
	"os/signal"
	"syscall"

	"payment-webhook-engine/internal/app"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake, dispatcher and cleanup sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.Run(ctx)
		},
	}
}
