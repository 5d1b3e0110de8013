// Package orders drives recharge orders through PENDING -> SUCCESS | FAILED | EXPIRED.
// Provider calls never run inside a database transaction; the credit for a
// successful payment is written in the same transaction as the status change.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// ErrProviderUnavailable wraps every provider failure; the order stays PENDING.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

const (
	internalProvider = "internal"

	DefaultListLimit = 20
	MaxListLimit     = 100
)

// BalanceAdjuster is the part of the accounting facade the order flow credits through.
type BalanceAdjuster interface {
	AdjustTx(ctx context.Context, tx pgx.Tx, adj accounting.Adjustment) (*accounting.Receipt, error)
}

// Config carries the timing knobs of the order flow.
type Config struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	ProvisionLease  time.Duration
	ProviderTimeout time.Duration
	SweepBatch      int
	ForceDirect     bool
}

type Service struct {
	db       persistence.Transactor
	orders   recharge.Repository
	dedup    recharge.DedupRepository
	credit   BalanceAdjuster
	provider recharge.Provider
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

func NewService(
	logger *slog.Logger,
	db persistence.Transactor,
	orders recharge.Repository,
	dedup recharge.DedupRepository,
	credit BalanceAdjuster,
	provider recharge.Provider,
	cfg Config,
) *Service {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &Service{
		db:       db,
		orders:   orders,
		dedup:    dedup,
		credit:   credit,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a PENDING order. The provider is not contacted until EnsurePayment.
func (s *Service) Create(ctx context.Context, userID int64, token, amount string) (*recharge.Order, error) {
	if userID <= 0 {
		return nil, asset.ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	a, err := asset.ParseToken(token)
	if err != nil {
		return nil, err
	}
	if a == asset.ENERGY {
		return nil, fmt.Errorf("%w: %s", recharge.ErrUnsupportedAsset, a)
	}
	amt, err := asset.ParseAmount(a, amount)
	if err != nil {
		return nil, err
	}
	if !amt.IsPositive() {
		return nil, asset.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	provider := internalProvider
	o := &recharge.Order{
		UserID:   userID,
		Asset:    a,
		Amount:   amt.String(),
		Status:   recharge.StatusPending,
		ExpireAt: s.now().Add(s.cfg.TTL).UTC(),
	}
	if o.NeedsProvider() {
		provider = s.provider.Name()
	}
	o.Provider = provider

	if err := s.orders.Create(ctx, o); err != nil {
		s.logger.Error("Failed to create recharge order", "user_id", userID, "asset", string(a), "error", err)
		return nil, fmt.Errorf("failed to create recharge order: %w", err)
	}

	s.logger.Info("Recharge order created",
		"order_id", o.ID,
		"user_id", userID,
		"asset", string(a),
		"amount", o.Amount,
		"provider", provider,
	)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*recharge.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64, limit int) ([]*recharge.Order, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

// EnsurePayment makes sure a pending order has a deposit address.
// A payment id already on the order is only ever looked up, never recreated.
func (s *Service) EnsurePayment(ctx context.Context, id int64) (*recharge.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != recharge.StatusPending || !o.NeedsProvider() || o.HasPaymentFields() {
		return o, nil
	}

	claimed, err := s.orders.ClaimProvisioning(ctx, id, s.cfg.ProvisionLease)
	if err != nil {
		return nil, fmt.Errorf("failed to claim provisioning lease: %w", err)
	}
	if !claimed {
		s.logger.Debug("Order is being provisioned elsewhere", "order_id", id)
		return o, nil
	}
	defer func() {
		if err := s.orders.ReleaseProvisioning(context.WithoutCancel(ctx), id); err != nil {
			s.logger.Warn("Failed to release provisioning lease", "order_id", id, "error", err)
		}
	}()

	payment, err := s.obtainPayment(ctx, o)
	if err != nil {
		s.logger.Error("Payment provider call failed",
			"order_id", id,
			"provider", s.provider.Name(),
			"error", err,
		)
		return o, fmt.Errorf("%w: order %d: %w", ErrProviderUnavailable, id, err)
	}

	if err := s.orders.SaveProviderFields(ctx, id, payment.Fields()); err != nil {
		return nil, fmt.Errorf("failed to save provider fields: %w", err)
	}

	s.logger.Info("Payment provisioned",
		"order_id", id,
		"payment_id", payment.PaymentID,
		"pay_currency", payment.PayCurrency,
		"network", payment.Network,
	)
	return s.orders.GetByID(ctx, id)
}

func (s *Service) obtainPayment(ctx context.Context, o *recharge.Order) (*recharge.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	if o.PaymentID != "" {
		return s.provider.GetPayment(ctx, o.PaymentID)
	}

	if !s.cfg.ForceDirect {
		p, err := s.paymentByInvoice(ctx, o)
		if err == nil && p.PaymentID != "" {
			// one provider payment per order; a missing address is filled in by a later lookup
			if p.PayAddress == "" {
				s.logger.Info("Payment created without a deposit address yet", "order_id", o.ID, "payment_id", p.PaymentID)
			}
			return p, nil
		}
		s.logger.Warn("Invoice flow created no payment, falling back to direct payment",
			"order_id", o.ID,
			"error", err,
		)
	}

	p, err := s.provider.CreatePayment(ctx, o)
	if err != nil {
		return nil, err
	}
	if p.InvoiceID == "" {
		p.InvoiceID = o.InvoiceID
	}
	return p, nil
}

func (s *Service) paymentByInvoice(ctx context.Context, o *recharge.Order) (*recharge.Payment, error) {
	invoiceID := o.InvoiceID
	if invoiceID == "" {
		inv, err := s.provider.CreateInvoice(ctx, o)
		if err != nil {
			return nil, err
		}
		invoiceID = inv.ID
		// persisted before the next call so a crash cannot orphan the invoice
		fields := recharge.ProviderFields{InvoiceID: inv.ID, PaymentURL: inv.URL}
		if err := s.orders.SaveProviderFields(ctx, o.ID, fields); err != nil {
			return nil, fmt.Errorf("failed to save invoice id: %w", err)
		}
		fields.Apply(o)
	}
	return s.provider.CreatePaymentByInvoice(ctx, o, invoiceID)
}

// MarkSuccess credits the order in its own transaction.
func (s *Service) MarkSuccess(ctx context.Context, id int64, txHash string) (bool, error) {
	var credited bool
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		credited, err = s.MarkSuccessTx(ctx, tx, id, txHash)
		return err
	})
	return credited, err
}

// MarkSuccessTx moves a PENDING order to SUCCESS and credits its amount inside tx.
// It reports false without error when the order was already SUCCESS.
func (s *Service) MarkSuccessTx(ctx context.Context, tx pgx.Tx, id int64, txHash string) (bool, error) {
	orders := s.orders.WithTx(tx)
	o, err := orders.LockForUpdate(ctx, id)
	if err != nil {
		return false, err
	}

	switch o.Status {
	case recharge.StatusSuccess:
		s.logger.Info("Order already credited", "order_id", id, "tx_hash", txHash)
		return false, nil
	case recharge.StatusFailed, recharge.StatusExpired:
		return false, recharge.ErrOrderFinalized{ID: id, Status: o.Status}
	}

	amount, err := o.CreditAmount()
	if err != nil {
		return false, fmt.Errorf("order %d has an unusable amount: %w", id, err)
	}

	moved, err := orders.Transition(ctx, id, recharge.StatusSuccess, txHash, "")
	if err != nil {
		return false, fmt.Errorf("failed to mark order successful: %w", err)
	}
	if !moved {
		return false, balance.ErrConcurrentModification
	}

	_, err = s.credit.AdjustTx(ctx, tx, accounting.Adjustment{
		UserID: o.UserID,
		Asset:  o.Asset,
		Delta:  amount,
		Ledger: &accounting.LedgerSpec{
			Kind:    ledger.KindRecharge,
			RefType: ledger.RefOrder,
			RefID:   strconv.FormatInt(id, 10),
			Note:    "recharge via " + o.Provider,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to credit recharge: %w", err)
	}

	s.logger.Info("Recharge credited",
		"order_id", id,
		"user_id", o.UserID,
		"asset", string(o.Asset),
		"amount", amount.String(),
		"tx_hash", txHash,
	)
	return true, nil
}

// MarkFailed reports whether the order moved; terminal orders are left alone.
func (s *Service) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	return s.finish(ctx, id, recharge.StatusFailed, reason)
}

func (s *Service) MarkExpired(ctx context.Context, id int64) (bool, error) {
	return s.finish(ctx, id, recharge.StatusExpired, "expired")
}

func (s *Service) finish(ctx context.Context, id int64, to recharge.Status, note string) (bool, error) {
	moved, err := s.orders.Transition(ctx, id, to, "", note)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s: %w", to, err)
	}
	if !moved {
		// distinguishes a missing order from an already-terminal one
		if _, err := s.orders.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	s.logger.Info("Recharge order closed", "order_id", id, "status", string(to), "note", note)
	return true, nil
}

// RefreshStatusIfNeeded polls the provider for a pending order unless it was polled recently.
func (s *Service) RefreshStatusIfNeeded(ctx context.Context, id int64) (*recharge.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status.IsTerminal() {
		return o, nil
	}

	now := s.now()
	if o.IsExpired(now) {
		if _, err := s.MarkExpired(ctx, id); err != nil {
			return nil, err
		}
		return s.orders.GetByID(ctx, id)
	}
	if o.PaymentID == "" || o.RefreshedWithin(now, s.cfg.RefreshInterval) {
		return o, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	payment, err := s.provider.GetPayment(pctx, o.PaymentID)
	cancel()
	if err != nil {
		s.logger.Warn("Payment status refresh failed", "order_id", id, "payment_id", o.PaymentID, "error", err)
		return o, fmt.Errorf("%w: order %d: %w", ErrProviderUnavailable, id, err)
	}

	if err := s.orders.TouchRefreshed(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to stamp refresh time: %w", err)
	}

	status, known := recharge.MapProviderStatus(payment.Status)
	if !known {
		s.logger.Warn("Unknown provider payment status", "order_id", id, "status", payment.Status)
	}

	switch status {
	case recharge.StatusSuccess:
		if err := s.settle(ctx, o, payment); err != nil {
			return nil, err
		}
	case recharge.StatusFailed:
		if _, err := s.MarkFailed(ctx, id, "provider status: "+payment.Status); err != nil {
			return nil, err
		}
	case recharge.StatusExpired:
		if _, err := s.MarkExpired(ctx, id); err != nil {
			return nil, err
		}
	}

	return s.orders.GetByID(ctx, id)
}

// settle records the payment id with the credit so a later callback for it is a duplicate.
func (s *Service) settle(ctx context.Context, o *recharge.Order, p *recharge.Payment) error {
	paymentID := p.PaymentID
	if paymentID == "" {
		paymentID = o.PaymentID
	}
	return s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		fresh, err := s.dedup.WithTx(tx).Record(ctx, paymentID, o.ID, o.Provider)
		if err != nil {
			return fmt.Errorf("failed to record processed payment: %w", err)
		}
		if !fresh {
			s.logger.Info("Payment already processed", "order_id", o.ID, "payment_id", paymentID)
			return nil
		}
		_, err = s.MarkSuccessTx(ctx, tx, o.ID, p.TxHash)
		return err
	})
}

// ExpireOverdue sweeps PENDING orders past their expiry in batches.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := s.orders.ExpireOverdue(ctx, s.now(), s.cfg.SweepBatch)
		if err != nil {
			return total, fmt.Errorf("failed to expire overdue orders: %w", err)
		}
		total += len(ids)
		if len(ids) < s.cfg.SweepBatch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		s.logger.Info("Expired overdue recharge orders", "count", total)
	}
	return total, nil
}

// RefreshStale polls the provider for pending orders whose status is older than the refresh interval.
func (s *Service) RefreshStale(ctx context.Context) (int, error) {
	stale, err := s.orders.ListStalePending(ctx, s.now().Add(-s.cfg.RefreshInterval), s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	var errs []error
	refreshed := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.RefreshStatusIfNeeded(ctx, o.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		refreshed++
	}

	if len(stale) > 0 {
		s.logger.Info("Refreshed stale recharge orders", "checked", len(stale), "refreshed", refreshed, "failed", len(errs))
	}
	return refreshed, errors.Join(errs...)
}
