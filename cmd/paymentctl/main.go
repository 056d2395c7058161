package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/config"
	"coaching_payments_echo/internal/logger"
	"coaching_payments_echo/internal/services"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "paymentctl",
		Short:        "Operator tools for the payment service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect loads the configuration and opens the database.
func connect() (*config.Config, *gorm.DB, *zap.Logger, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, nil, fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect DB: %w", err)
	}
	return cfg, db, log, nil
}
