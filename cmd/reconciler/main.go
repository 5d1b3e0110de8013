package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/config"
	"github.com/hongbao-ledger/internal/data/mongo"
	"github.com/hongbao-ledger/internal/data/postgres"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/hongbao-ledger/internal/logger"
	"github.com/hongbao-ledger/internal/orders"
	"github.com/hongbao-ledger/internal/platform/messaging/consumers"
	"github.com/hongbao-ledger/internal/platform/messaging/producers"
	"github.com/hongbao-ledger/internal/platform/paygateway"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/hongbao-ledger/internal/reconciler/consumer"
	"github.com/hongbao-ledger/internal/reconciler/outbox_poller"
	"github.com/hongbao-ledger/internal/reconciler/scheduler"
	"github.com/hongbao-ledger/internal/reconciler/service"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("reconciler")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	log.Info("Starting Reconciler",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}
	if err := mongoDB.EnsureIndexes(appCtx, mongo.LedgerAuditCollectionName, mongo.IndexModels()); err != nil {
		log.Error("Failed to create ledger audit indexes", "error", err)
		os.Exit(1)
	}

	provider, err := paygateway.New(log, cfg)
	if err != nil {
		log.Error("Failed to initialize payment provider", "error", err)
		os.Exit(1)
	}

	// Repositories
	balanceRepo := postgres.NewBalanceRepository(log, postgresDB)
	ledgerRepo := postgres.NewLedgerRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	orderRepo := postgres.NewRechargeOrderRepository(log, postgresDB)
	dedupRepo := postgres.NewPaymentDedupRepository(log, postgresDB)
	auditRepo := mongo.NewLedgerAuditRepository(log, mongoDB.Database())

	accountingService := accounting.NewService(log, postgresDB, balanceRepo, ledgerRepo, outboxRepo)
	orderService := orders.NewService(log, postgresDB, orderRepo, dedupRepo, accountingService, provider, orders.Config{
		TTL:             cfg.Recharge.OrderTTL,
		RefreshInterval: cfg.Recharge.RefreshInterval,
		ProvisionLease:  cfg.Recharge.ProvisionLease,
		ProviderTimeout: cfg.NowPayments.Timeout,
		SweepBatch:      cfg.Recharge.SweepBatch,
		ForceDirect:     cfg.NowPayments.ForceDirect,
	})

	// Callbacks are applied on a bounded pool so a burst cannot exhaust the Postgres pool
	reconciler := ipn.NewReconciler(log, postgresDB, orderRepo, dedupRepo, orderService)
	callbackService, err := service.NewWorkerPoolService(reconciler, service.WorkerPoolConfig{Size: cfg.WorkerPool.Size}, log)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
		os.Exit(1)
	}

	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	var deadLetters producers.DeadLetterPublisher
	if dlqProducer != nil {
		deadLetters = dlqProducer
	}

	callbackHandler := consumer.NewCallbackHandler(log, callbackService, deadLetters)

	auditPublisher := outbox_poller.NewAuditPublisher(outboxRepo, auditRepo, log)
	poller := outbox_poller.NewPoller(&cfg.Outbox, outboxRepo, auditPublisher, log)

	sweeps := scheduler.NewScheduler(log, cfg.Recharge, orderService)
	if err := sweeps.Start(appCtx); err != nil {
		log.Error("Failed to start order sweeps", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 2)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Kafka consumer",
			"topic", cfg.Kafka.CallbackTopic,
			"group", cfg.Kafka.ConsumerGroup,
		)
		if err := kafkaConsumer.Subscribe(appCtx, callbackHandler.HandleMessage); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Outbox Poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		poller.Start(appCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	cancelAppCtx()

	// No new sweeps; waits for a running one to return
	sweeps.Stop()

	callbackService.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}

	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serviceErr != nil {
		log.Error("Reconciler shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Reconciler shutdown completed with errors")
	} else {
		log.Info("Reconciler shutdown completed successfully")
	}
}
