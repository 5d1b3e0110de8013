package service

import (
	"context"

	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/ipn"
)

// CallbackService applies verified provider callbacks to recharge orders.
type CallbackService interface {
	Dispatch(ctx context.Context, callback *shared.PaymentCallback) (ipn.Outcome, error)
}

var _ CallbackService = (*ipn.Reconciler)(nil)
