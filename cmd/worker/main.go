package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coaching_payments_echo/internal/config"
	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/logger"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/outbox"
	"coaching_payments_echo/internal/services"
	"coaching_payments_echo/internal/store"
	"coaching_payments_echo/internal/tasks"
)

const taskPollInterval = time.Minute

func main() {
	cfg := config.Load()
	log := logger.MustNew(cfg.Env)
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// The sweep never calls a gateway, so no adapters are needed here.
	payments := services.NewPaymentService(
		store.NewTransactionStore(db),
		[]gateway.Adapter{},
		nil,
		nil,
		services.PaymentConfig{DefaultGateway: models.PaymentGateway(cfg.DefaultGateway), GatewayTimeout: cfg.GatewayTimeout},
		log,
	)

	var mailer services.Mailer
	if cfg.SMTP.Host != "" {
		mailer = services.NewEmailService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}

	registry := tasks.DefineTasks(tasks.Dependencies{
		Payments:     payments,
		Mailer:       mailer,
		ExpiryWindow: cfg.PendingExpiryWindow,
		Logger:       log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := tasks.EnsureRecurring(ctx, db, tasks.ExpirePendingTaskID, cfg.SweepRRule, tasks.ExpirePendingArgs{}, 1)
	if err != nil {
		log.Fatal("Failed to schedule expiry sweep", zap.Error(err))
	}
	if created {
		log.Info("Scheduled expiry sweep", zap.String("rrule", cfg.SweepRRule))
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down worker...")
		cancel()
	}()

	var wg sync.WaitGroup

	runner := tasks.NewRunner(db, registry, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.Run(ctx, taskPollInterval)
	}()

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		producer := services.NewKafkaProducer(brokers, log)
		defer producer.Close()

		processor := outbox.NewProcessor(db, producer, cfg.PaymentStatusTopic, cfg.OutboxPollInterval, cfg.OutboxPollTimeout, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Run(ctx)
		}()
	} else {
		log.Warn("KAFKA_BROKER_URL not set, payment status events stay in the outbox")
	}

	log.Info("Worker started")
	wg.Wait()
}
