package ipn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// Outcome is what a callback did to its order.
type Outcome string

const (
	OutcomeCredited       Outcome = "credited"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeLateSuccess    Outcome = "late_success"
	OutcomeFailed         Outcome = "failed"
	OutcomeExpired        Outcome = "expired"
	OutcomeNoChange       Outcome = "no_change"
	OutcomePending        Outcome = "pending"
	OutcomeUnknownStatus  Outcome = "unknown_status"
)

// OrderSettler is the slice of the order service the reconciler drives.
type OrderSettler interface {
	MarkSuccessTx(ctx context.Context, tx pgx.Tx, id int64, txHash string) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)
	MarkExpired(ctx context.Context, id int64) (bool, error)
}

type Reconciler struct {
	db     persistence.Transactor
	orders recharge.Repository
	dedup  recharge.DedupRepository
	settle OrderSettler
	logger *slog.Logger
}

func NewReconciler(
	logger *slog.Logger,
	db persistence.Transactor,
	orders recharge.Repository,
	dedup recharge.DedupRepository,
	settle OrderSettler,
) *Reconciler {
	return &Reconciler{
		db:     db,
		orders: orders,
		dedup:  dedup,
		settle: settle,
		logger: logger,
	}
}

var errLateSuccess = errors.New("success reported for a closed order")

// Dispatch applies one verified callback. Replays of a credited payment id are no-ops.
func (r *Reconciler) Dispatch(ctx context.Context, cb *shared.PaymentCallback) (Outcome, error) {
	if err := cb.Validate(); err != nil {
		return "", err
	}

	o, err := r.resolve(ctx, cb)
	if err != nil {
		return "", err
	}

	log := r.logger.With(
		"order_id", o.ID,
		"payment_id", cb.PaymentID,
		"status", cb.Status,
		"correlation_id", cb.CorrelationID,
	)

	status, known := recharge.MapProviderStatus(cb.Status)
	if !known {
		log.Warn("Unknown payment status acknowledged without action")
		return OutcomeUnknownStatus, nil
	}

	switch status {
	case recharge.StatusSuccess:
		return r.credit(ctx, log, o, cb)
	case recharge.StatusFailed:
		moved, err := r.settle.MarkFailed(ctx, o.ID, "provider status: "+cb.Status)
		if err != nil {
			return "", err
		}
		if !moved {
			return OutcomeNoChange, nil
		}
		return OutcomeFailed, nil
	case recharge.StatusExpired:
		moved, err := r.settle.MarkExpired(ctx, o.ID)
		if err != nil {
			return "", err
		}
		if !moved {
			return OutcomeNoChange, nil
		}
		return OutcomeExpired, nil
	}

	log.Debug("Payment still in progress")
	return OutcomePending, nil
}

func (r *Reconciler) credit(ctx context.Context, log *slog.Logger, o *recharge.Order, cb *shared.PaymentCallback) (Outcome, error) {
	paymentID := cb.PaymentID
	if paymentID == "" {
		paymentID = o.PaymentID
	}
	if paymentID == "" {
		paymentID = "order-" + strconv.FormatInt(o.ID, 10)
	}

	var outcome Outcome
	err := r.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		fresh, err := r.dedup.WithTx(tx).Record(ctx, paymentID, o.ID, cb.Provider)
		if err != nil {
			return fmt.Errorf("failed to record processed payment: %w", err)
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}

		if o.PaymentID == "" && cb.PaymentID != "" {
			fields := recharge.ProviderFields{PaymentID: cb.PaymentID, PayAddress: cb.PayAddress, PayCurrency: cb.PayCurrency}
			if err := r.orders.WithTx(tx).SaveProviderFields(ctx, o.ID, fields); err != nil {
				return fmt.Errorf("failed to save payment id: %w", err)
			}
		}

		credited, err := r.settle.MarkSuccessTx(ctx, tx, o.ID, cb.TxHash)
		if errors.Is(err, recharge.ErrOrderFinalized{}) {
			return errLateSuccess
		}
		if err != nil {
			return err
		}
		if credited {
			outcome = OutcomeCredited
		} else {
			outcome = OutcomeAlreadySettled
		}
		return nil
	})

	if errors.Is(err, errLateSuccess) {
		log.Warn("Success callback for an order that is no longer pending; not credited")
		return OutcomeLateSuccess, nil
	}
	if err != nil {
		log.Error("Failed to apply success callback", "error", err)
		return "", err
	}

	log.Info("Success callback applied", "outcome", string(outcome))
	return outcome, nil
}

func (r *Reconciler) resolve(ctx context.Context, cb *shared.PaymentCallback) (*recharge.Order, error) {
	if cb.OrderID > 0 {
		o, err := r.orders.GetByID(ctx, cb.OrderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, recharge.ErrOrderNotFound{}) || cb.PaymentID == "" {
			return nil, err
		}
	}
	return r.orders.GetByPaymentID(ctx, cb.PaymentID)
}
