// Package scheduler runs the periodic recharge sweeps: expiring overdue orders
// and polling the provider for orders whose callback never arrived.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hongbao-ledger/internal/config"
	"github.com/robfig/cron/v3"
)

// Sweeper is the part of the order service the scheduler drives
type Sweeper interface {
	ExpireOverdue(ctx context.Context) (int, error)
	RefreshStale(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	cfg     config.RechargeConfig
	logger  *slog.Logger
}

func NewScheduler(logger *slog.Logger, cfg config.RechargeConfig, sweeper Sweeper) *Scheduler {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("Unknown scheduler timezone, falling back to UTC", "timezone", cfg.Timezone, "error", err)
		} else {
			loc = l
		}
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start registers both sweeps and starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.ExpirySchedule, func() { s.runExpiry(ctx) }); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", s.cfg.ExpirySchedule, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.RefreshSchedule, func() { s.runRefresh(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", s.cfg.RefreshSchedule, err)
	}

	s.cron.Start()
	s.logger.Info("Recharge scheduler started",
		"expiry_schedule", s.cfg.ExpirySchedule,
		"refresh_schedule", s.cfg.RefreshSchedule,
		"timezone", s.cron.Location().String(),
	)
	return nil
}

// Stop waits for running sweeps to return
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Recharge scheduler stopped")
}

func (s *Scheduler) runExpiry(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.sweeper.ExpireOverdue(ctx)
	if err != nil {
		s.logger.Error("Expiry sweep failed", "expired", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Expiry sweep finished", "expired", n)
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.sweeper.RefreshStale(ctx)
	if err != nil {
		// partial failures still count the orders that were refreshed
		s.logger.Error("Refresh sweep failed", "refreshed", n, "error", err)
		return
	}
	s.logger.Debug("Refresh sweep finished", "refreshed", n)
}
