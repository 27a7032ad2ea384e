package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"payment-webhook-engine/config"
	"payment-webhook-engine/internal/app"
	"payment-webhook-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("PWE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Msg("Starting Payment Webhook Engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	err = engine.Run(ctx)
	engine.Close()
	if err != nil {
		log.Error().Err(err).Msg("Engine stopped with error")
		os.Exit(1)
	}

	log.Info().Msg("Server exited")
}
