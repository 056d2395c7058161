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
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/services"
	"coaching_payments_echo/internal/store"
	"coaching_payments_echo/internal/tasks"
)

func main() {
	cfg := config.Load()
	log := logger.MustNew(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateServer(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := services.AutoMigrate(db, log); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Redis only caches terminal statuses; the API works without it.
	var cache services.Cache
	if cfg.RedisURL != "" {
		redisCache, err := services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, status cache disabled", zap.Error(err))
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}

	authClient, err := services.InitFirebase(context.Background(), cfg.FirebaseCredentialsPath)
	if err != nil {
		log.Warn("Firebase initialization failed, authenticated routes will reject requests", zap.Error(err))
	}
	var verifier middleware.TokenVerifier
	if authClient != nil {
		verifier = authClient
	}

	var adapters []gateway.Adapter
	if cfg.Iyzico.APIKey != "" {
		adapters = append(adapters, gateway.NewDirectAdapter(gateway.DirectConfig{
			BaseURL:   cfg.Iyzico.BaseURL,
			APIKey:    cfg.Iyzico.APIKey,
			SecretKey: cfg.Iyzico.SecretKey,
		}))
	}
	if cfg.Relay.URL != "" {
		adapters = append(adapters, gateway.NewRelayAdapter(gateway.RelayConfig{
			BaseURL: cfg.Relay.URL,
			AnonKey: cfg.Relay.AnonKey,
		}))
	}

	paymentCfg := services.PaymentConfig{
		DefaultGateway:  models.PaymentGateway(cfg.DefaultGateway),
		GatewayTimeout:  cfg.GatewayTimeout,
		CallbackBaseURL: cfg.AppURL,
	}
	if cfg.SMTP.Host != "" {
		paymentCfg.SuccessEffects = append(paymentCfg.SuccessEffects, tasks.ScheduleReceipt)
	}
	payments := services.NewPaymentService(
		store.NewTransactionStore(db),
		adapters,
		services.NewEntitlements(db),
		cache,
		paymentCfg,
		log,
	)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewRequestValidator()
	e.HTTPErrorHandler = middleware.NewErrorHandler(log)

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())

	paymentHandler := handlers.NewPaymentHandler(payments, cfg.AppURL)
	callbackHandler := handlers.NewCallbackHandler(payments, cfg.AppURL, cfg.PaymentReturnURL, log)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Gateways post here; the callback is verified with the gateway itself.
	e.POST("/payments/callback/:gateway", callbackHandler.HandleCallback)

	api := e.Group("/api")
	api.Use(middleware.RequireAuth(verifier))
	api.POST("/payments", paymentHandler.CreatePayment)
	api.GET("/payments", paymentHandler.ListPayments)
	api.GET("/payments/:ref", paymentHandler.GetPayment)

	go func() {
		log.Info("Server starting", zap.String("port", cfg.Port), zap.String("default_gateway", cfg.DefaultGateway))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
