// Command webhookctl operates a payment webhook engine deployment.
package main

import (
	"fmt"
	"os"

	"payment-webhook-engine/config"
	"payment-webhook-engine/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var Version = "dev"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "webhookctl",
		Short:         "Operate the payment webhook engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(redeliverCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(signCmd())
	return rootCmd
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty), nil
}
