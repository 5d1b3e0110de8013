package service

import (
	"context"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/panjf2000/ants/v2"
)

// WorkerPoolService bounds how many callbacks are applied at once.
type WorkerPoolService struct {
	base   CallbackService
	pool   *ants.Pool
	logger *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

type dispatchResult struct {
	outcome ipn.Outcome
	err     error
}

func NewWorkerPoolService(base CallbackService, config WorkerPoolConfig, logger *slog.Logger) (*WorkerPoolService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolService{
		base:   base,
		pool:   pool,
		logger: logger,
	}, nil
}

// Dispatch runs the callback on a pool worker and waits for its outcome.
func (s *WorkerPoolService) Dispatch(ctx context.Context, callback *shared.PaymentCallback) (ipn.Outcome, error) {
	logger := s.logger
	if callback.CorrelationID != "" {
		logger = s.logger.With("correlation_id", callback.CorrelationID)
	}

	logger.Debug("Submitting callback to worker pool",
		"order_id", callback.OrderID,
		"payment_id", callback.PaymentID,
	)

	resultChan := make(chan dispatchResult, 1)
	cb := *callback

	err := s.pool.Submit(func() {
		outcome, err := s.base.Dispatch(ctx, &cb)
		resultChan <- dispatchResult{outcome: outcome, err: err}
	})
	if err != nil {
		logger.Error("Failed to submit callback to worker pool",
			"payment_id", callback.PaymentID,
			"error", err,
		)
		return "", err
	}

	select {
	case res := <-resultChan:
		return res.outcome, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool.
func (s *WorkerPoolService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolService) Capacity() int {
	return s.pool.Cap()
}
