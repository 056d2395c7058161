// Command relay is the trusted function in front of Midtrans. It holds the
// server key, opens Snap sessions for relay transactions and answers status
// checks for the API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"coaching_payments_echo/internal/config"
	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/handlers"
	"coaching_payments_echo/internal/logger"
	"coaching_payments_echo/internal/middleware"
	"coaching_payments_echo/internal/services"
	"coaching_payments_echo/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.MustNew(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateRelay(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	var verifier middleware.TokenVerifier
	if authClient, err := services.InitFirebase(context.Background(), cfg.FirebaseCredentialsPath); err != nil {
		log.Warn("Firebase initialization failed, only the anonymous key is accepted", zap.Error(err))
	} else {
		verifier = authClient
	}

	midtransService := services.NewMidtransService(cfg.Midtrans.ServerKey, cfg.Midtrans.IsProduction)
	relayHandler := handlers.NewRelayHandler(store.NewTransactionStore(db), midtransService, cfg.AppURL, cfg.PaymentReturnURL, log)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewRequestValidator()
	e.HTTPErrorHandler = middleware.NewErrorHandler(log)
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())

	relay := e.Group("", middleware.RequireRelayAuth(verifier, cfg.Relay.AnonKey))
	relay.POST(gateway.RelayTokenPath, relayHandler.CreateToken)
	relay.POST(gateway.RelayStatusPath, relayHandler.CheckStatus)

	go func() {
		log.Info("Relay starting", zap.String("port", cfg.Port), zap.Bool("production", cfg.Midtrans.IsProduction))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Relay stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
