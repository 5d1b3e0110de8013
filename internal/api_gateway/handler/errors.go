package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/orders"
)

// respondError maps domain errors onto status codes. Anything unrecognised is a 500.
func respondError(c *gin.Context, logger *slog.Logger, err error, msg string) {
	var (
		validation   asset.ValidationError
		unknownAsset asset.ErrUnknownAsset
		unknownOp    approval.ErrUnknownOpType
		insufficient balance.ErrInsufficientBalance
		notPending   approval.ErrNotPending
		finalized    recharge.ErrOrderFinalized
	)

	switch {
	case errors.As(err, &validation):
		RespondBadRequest(c, validation.Error())
	case errors.As(err, &unknownAsset):
		RespondBadRequest(c, unknownAsset.Error())
	case errors.As(err, &unknownOp):
		RespondBadRequest(c, unknownOp.Error())
	case errors.Is(err, approval.ErrSameApprover),
		errors.Is(err, approval.ErrInvalidPayload),
		errors.Is(err, recharge.ErrUnsupportedAsset):
		RespondBadRequest(c, err.Error())
	case errors.As(err, &insufficient):
		RespondInsufficientBalance(c, "Insufficient balance")
	case errors.Is(err, balance.ErrConcurrentModification):
		RespondConflict(c, "Balance is being modified concurrently, try again")
	case errors.As(err, &notPending):
		RespondConflict(c, notPending.Error())
	case errors.As(err, &finalized):
		RespondConflict(c, finalized.Error())
	case errors.Is(err, orders.ErrProviderUnavailable):
		logger.Warn(msg, "error", err)
		RespondBadGateway(c, "Payment provider unavailable, the order stays pending")
	case errors.Is(err, recharge.ErrOrderNotFound{}):
		RespondNotFound(c, "Order not found")
	case errors.Is(err, approval.ErrApprovalNotFound{}):
		RespondNotFound(c, "Approval not found")
	default:
		logger.Error(msg, "error", err)
		RespondInternalError(c)
	}
}

// int64Param parses a positive path or query id
func int64Param(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
