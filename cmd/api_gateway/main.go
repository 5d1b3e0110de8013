package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/api_gateway"
	"github.com/hongbao-ledger/internal/api_gateway/service"
	"github.com/hongbao-ledger/internal/approvals"
	"github.com/hongbao-ledger/internal/config"
	"github.com/hongbao-ledger/internal/data/mongo"
	"github.com/hongbao-ledger/internal/data/postgres"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/hongbao-ledger/internal/logger"
	"github.com/hongbao-ledger/internal/orders"
	"github.com/hongbao-ledger/internal/platform/messaging/producers"
	"github.com/hongbao-ledger/internal/platform/paygateway"
	"github.com/hongbao-ledger/internal/platform/persistence"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	// Migrations run inside NewPostgresDB
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

	// Verified IPN callbacks are handed to the reconciler through Kafka
	callbackProducer, err := producers.NewCallbackProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize callback Kafka producer", "error", err)
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
	approvalRepo := postgres.NewApprovalRepository(log, postgresDB)
	auditRepo := mongo.NewLedgerAuditRepository(log, mongoDB.Database())

	// Services
	accountingService := accounting.NewService(log, postgresDB, balanceRepo, ledgerRepo, outboxRepo)
	orderService := orders.NewService(log, postgresDB, orderRepo, dedupRepo, accountingService, provider, orders.Config{
		TTL:             cfg.Recharge.OrderTTL,
		RefreshInterval: cfg.Recharge.RefreshInterval,
		ProvisionLease:  cfg.Recharge.ProvisionLease,
		ProviderTimeout: cfg.NowPayments.Timeout,
		SweepBatch:      cfg.Recharge.SweepBatch,
		ForceDirect:     cfg.NowPayments.ForceDirect,
	})
	approvalService := approvals.NewService(log, postgresDB, approvalRepo, balanceRepo, accountingService, orderService, cfg.Approval.ResetBatchSize)

	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Accounting: accountingService,
		Ledger:     accounting.NewLedgerQuery(ledgerRepo),
		Audit:      service.NewAuditService(log, auditRepo),
		Orders:     orderService,
		Callbacks:  service.NewCallbackService(log, ipn.NewVerifier(cfg.NowPayments.IPNSecret), callbackProducer),
		Approvals:  approvalService,
	})
	log.Info("REST server initialized", "provider", cfg.Recharge.Provider)

	errChan := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// Drain in-flight requests before the pools they use go away
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	if err = callbackProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	postgresDB.Close()

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
