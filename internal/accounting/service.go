// Package accounting is the single entry point for balance mutations.
// Every change locks the (user, asset) row, refuses to go negative and,
// unless the caller opts out, appends a ledger entry in the same transaction.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/outbox"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// LedgerSpec describes the ledger entry written alongside an adjustment.
// An empty Kind is recorded as ADJUSTMENT.
type LedgerSpec struct {
	Kind       ledger.Kind
	RefType    ledger.RefType
	RefID      string
	Note       string
	OperatorID *int64
}

// Adjustment is a signed change to one user's asset balance.
// A nil Ledger applies the change without a ledger entry.
type Adjustment struct {
	UserID int64
	Asset  asset.Asset
	Delta  decimal.Decimal
	Ledger *LedgerSpec
}

// Receipt is what an adjustment left behind.
type Receipt struct {
	Balance *balance.Balance
	Entry   *ledger.Entry // nil when the adjustment was not ledgered
}

type Service struct {
	db       persistence.Transactor
	balances balance.Repository
	entries  ledger.Repository
	outbox   outbox.Repository
	logger   *slog.Logger
}

func NewService(
	logger *slog.Logger,
	db persistence.Transactor,
	balances balance.Repository,
	entries ledger.Repository,
	outboxRepo outbox.Repository,
) *Service {
	return &Service{
		db:       db,
		balances: balances,
		entries:  entries,
		outbox:   outboxRepo,
		logger:   logger,
	}
}

// Adjust applies adj in its own transaction. A lock conflict reported by the
// database is retried once before it is returned.
func (s *Service) Adjust(ctx context.Context, adj Adjustment) (*Receipt, error) {
	var receipt *Receipt
	run := func() error {
		return s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
			r, err := s.AdjustTx(ctx, tx, adj)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
	}

	err := run()
	if isConflict(err) {
		s.logger.Warn("Concurrent balance modification, retrying once",
			"user_id", adj.UserID,
			"asset", string(adj.Asset),
			"error", err,
		)
		err = run()
	}
	if err != nil {
		if isConflict(err) && !errors.Is(err, balance.ErrConcurrentModification) {
			err = fmt.Errorf("%w: %v", balance.ErrConcurrentModification, err)
		}
		return nil, err
	}

	s.logger.Info("Balance adjusted",
		"user_id", adj.UserID,
		"asset", string(receipt.Balance.Asset),
		"delta", adj.Delta.String(),
		"balance", receipt.Balance.Amount.String(),
		"ledgered", receipt.Entry != nil,
	)
	return receipt, nil
}

// AdjustTx applies adj inside a transaction owned by the caller.
// Nothing is written when the result would be negative.
func (s *Service) AdjustTx(ctx context.Context, tx pgx.Tx, adj Adjustment) (*Receipt, error) {
	a, delta, err := normalize(adj)
	if err != nil {
		return nil, err
	}

	balances := s.balances.WithTx(tx)
	b, err := balances.LockForUpdate(ctx, adj.UserID, a)
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}

	if err := b.Apply(delta); err != nil {
		return nil, err
	}

	if err := balances.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	receipt := &Receipt{Balance: b}
	if adj.Ledger == nil {
		return receipt, nil
	}

	kind := ledger.KindAdjustment
	if adj.Ledger.Kind != "" {
		kind = ledger.NormalizeKind(string(adj.Ledger.Kind))
	}
	entry := &ledger.Entry{
		UserID:     adj.UserID,
		Kind:       kind,
		Asset:      a,
		Amount:     delta,
		RefType:    adj.Ledger.RefType,
		RefID:      adj.Ledger.RefID,
		Note:       adj.Ledger.Note,
		OperatorID: adj.Ledger.OperatorID,
	}
	if err := s.entries.WithTx(tx).Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	msg, err := outbox.NewMessage(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox message: %w", err)
	}
	if err := s.outbox.WithTx(tx).Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create outbox message: %w", err)
	}

	receipt.Entry = entry
	return receipt, nil
}

// Balance returns the user's holding of a. A user who never held the asset has zero.
func (s *Service) Balance(ctx context.Context, userID int64, a asset.Asset) (decimal.Decimal, error) {
	a, err := asset.Parse(string(a))
	if err != nil {
		return decimal.Zero, err
	}

	b, err := s.balances.Get(ctx, userID, a)
	if err != nil {
		if errors.Is(err, balance.ErrBalanceNotFound{}) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return a.Quantize(b.Amount)
}

// CanSpend reports whether amount could be deducted now. It never writes.
func (s *Service) CanSpend(ctx context.Context, userID int64, a asset.Asset, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, asset.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	a, err := asset.Parse(string(a))
	if err != nil {
		return false, err
	}
	need, err := a.Quantize(amount)
	if err != nil {
		return false, err
	}

	current, err := s.Balance(ctx, userID, a)
	if err != nil {
		return false, err
	}
	return (&balance.Balance{Amount: current}).CanSpend(need), nil
}

func normalize(adj Adjustment) (asset.Asset, decimal.Decimal, error) {
	if adj.UserID <= 0 {
		return "", decimal.Zero, asset.ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	a, err := asset.Parse(string(adj.Asset))
	if err != nil {
		return "", decimal.Zero, err
	}
	delta, err := a.Quantize(adj.Delta)
	if err != nil {
		return "", decimal.Zero, err
	}
	return a, delta, nil
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, balance.ErrConcurrentModification) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
