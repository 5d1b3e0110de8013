package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/api_gateway/middleware"
	"github.com/hongbao-ledger/internal/api_gateway/service"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// AccountingHandler handles balance reads and admin adjustments
type AccountingHandler struct {
	accountingService service.AccountingService
	logger            *slog.Logger
}

// NewAccountingHandler creates a new accounting handler
func NewAccountingHandler(logger *slog.Logger, accountingService service.AccountingService) *AccountingHandler {
	return &AccountingHandler{
		accountingService: accountingService,
		logger:            logger,
	}
}

// GetBalance returns the user's holding of one asset; never-held assets read as zero
func (h *AccountingHandler) GetBalance(c *gin.Context) {
	userID, ok := int64Param(c.Param("user_id"))
	if !ok {
		RespondBadRequest(c, "Invalid user ID")
		return
	}
	a := asset.Asset(c.Param("asset"))

	amount, err := h.accountingService.Balance(c.Request.Context(), userID, a)
	if err != nil {
		respondError(c, h.logger, err, "Failed to read balance")
		return
	}

	canonical, _ := asset.Parse(string(a))
	RespondOK(c, BalanceResponse{UserID: userID, Asset: string(canonical), Amount: amount.String()})
}

// CanSpend reports whether ?amount= could be deducted now
func (h *AccountingHandler) CanSpend(c *gin.Context) {
	userID, ok := int64Param(c.Param("user_id"))
	if !ok {
		RespondBadRequest(c, "Invalid user ID")
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		RespondBadRequest(c, "Invalid amount")
		return
	}
	a := asset.Asset(c.Param("asset"))

	can, err := h.accountingService.CanSpend(c.Request.Context(), userID, a, amount)
	if err != nil {
		respondError(c, h.logger, err, "Failed to check spendable balance")
		return
	}

	canonical, _ := asset.Parse(string(a))
	RespondOK(c, CanSpendResponse{UserID: userID, Asset: string(canonical), Amount: amount.String(), CanSpend: can})
}

// Adjust applies an operator adjustment; the ledger entry records the operator id
func (h *AccountingHandler) Adjust(c *gin.Context) {
	userID, ok := int64Param(c.Param("user_id"))
	if !ok {
		RespondBadRequest(c, "Invalid user ID")
		return
	}

	var req AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		RespondBadRequest(c, "Invalid delta")
		return
	}

	adj := accounting.Adjustment{
		UserID: userID,
		Asset:  asset.Asset(req.Asset),
		Delta:  delta,
	}
	if !req.NoLedger {
		operator := middleware.GetAdminID(c)
		adj.Ledger = &accounting.LedgerSpec{
			Kind:    ledger.Kind(req.Kind),
			RefType: ledger.RefType(req.RefType),
			RefID:   req.RefID,
			Note:    req.Note,
		}
		if operator != 0 {
			adj.Ledger.OperatorID = &operator
		}
	}

	receipt, err := h.accountingService.Adjust(c.Request.Context(), adj)
	if err != nil {
		respondError(c, h.logger, err, "Failed to adjust balance")
		return
	}

	resp := AdjustmentResponse{
		Balance: BalanceResponse{
			UserID: receipt.Balance.UserID,
			Asset:  string(receipt.Balance.Asset),
			Amount: receipt.Balance.Amount.String(),
		},
	}
	if receipt.Entry != nil {
		entry := mapEntryToResponse(receipt.Entry)
		resp.Entry = &entry
	}
	RespondCreated(c, resp)
}
