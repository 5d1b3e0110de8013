package handler

import (
	"encoding/json"
	"time"

	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/recharge"
)

// BalanceResponse represents one user's holding of one asset
type BalanceResponse struct {
	UserID int64  `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// CanSpendResponse reports whether an amount could be deducted now
type CanSpendResponse struct {
	UserID   int64  `json:"user_id"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	CanSpend bool   `json:"can_spend"`
}

// AdjustmentRequest represents a signed balance change. Amounts are strings so
// no precision is lost in transit.
type AdjustmentRequest struct {
	Asset    string `json:"asset" binding:"required"`
	Delta    string `json:"delta" binding:"required"`
	Kind     string `json:"kind,omitempty"`
	RefType  string `json:"ref_type,omitempty"`
	RefID    string `json:"ref_id,omitempty"`
	Note     string `json:"note,omitempty"`
	NoLedger bool   `json:"no_ledger,omitempty"`
}

// AdjustmentResponse represents what an adjustment left behind
type AdjustmentResponse struct {
	Balance BalanceResponse      `json:"balance"`
	Entry   *LedgerEntryResponse `json:"entry,omitempty"`
}

// LedgerEntryResponse represents a ledger entry in API responses
type LedgerEntryResponse struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	Kind       string `json:"kind"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	RefType    string `json:"ref_type,omitempty"`
	RefID      string `json:"ref_id,omitempty"`
	Note       string `json:"note,omitempty"`
	OperatorID *int64 `json:"operator_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// LedgerPageResponse is one keyset page; pass the next_* values back as before_id/before_ts
type LedgerPageResponse struct {
	Entries      []LedgerEntryResponse `json:"entries"`
	NextBeforeID int64                 `json:"next_before_id,omitempty"`
	NextBeforeTS string                `json:"next_before_ts,omitempty"`
}

// LedgerSumResponse represents an aggregate over a user's ledger
type LedgerSumResponse struct {
	UserID int64    `json:"user_id"`
	Asset  string   `json:"asset"`
	Kinds  []string `json:"kinds,omitempty"`
	From   string   `json:"from,omitempty"`
	To     string   `json:"to,omitempty"`
	Total  string   `json:"total"`
}

// CreateOrderRequest represents a request to open a recharge order
type CreateOrderRequest struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Token  string `json:"token" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// OrderResponse represents a recharge order in API responses
type OrderResponse struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	Provider    string `json:"provider"`
	PaymentID   string `json:"payment_id,omitempty"`
	PaymentURL  string `json:"payment_url,omitempty"`
	PayAddress  string `json:"pay_address,omitempty"`
	PayAmount   string `json:"pay_amount,omitempty"`
	PayCurrency string `json:"pay_currency,omitempty"`
	Network     string `json:"network,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at"`
	ExpireAt    string `json:"expire_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// ExpireOrderResponse reports whether a forced expiry changed the order
type ExpireOrderResponse struct {
	Order   OrderResponse `json:"order"`
	Expired bool          `json:"expired"`
}

// EnqueueApprovalRequest represents a request to queue a high-risk operation
type EnqueueApprovalRequest struct {
	OpType  string          `json:"op_type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// RejectApprovalRequest carries an optional rejection reason
type RejectApprovalRequest struct {
	Reason string `json:"reason"`
}

// ApprovalResponse represents a queued operation in API responses
type ApprovalResponse struct {
	ID          int64           `json:"id"`
	OpType      string          `json:"op_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	SubmittedBy int64           `json:"submitted_by"`
	ApprovedBy  *int64          `json:"approved_by,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   string          `json:"created_at"`
	DecidedAt   string          `json:"decided_at,omitempty"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func mapEntryToResponse(e *ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		Kind:       string(e.Kind),
		Asset:      string(e.Asset),
		Amount:     e.Amount.String(),
		RefType:    string(e.RefType),
		RefID:      e.RefID,
		Note:       e.Note,
		OperatorID: e.OperatorID,
		CreatedAt:  formatTime(e.CreatedAt),
	}
}

func mapEntriesToResponse(entries []*ledger.Entry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, mapEntryToResponse(e))
	}
	return out
}

func mapOrderToResponse(o *recharge.Order) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Asset:       string(o.Asset),
		Amount:      o.Amount,
		Status:      string(o.Status),
		Provider:    o.Provider,
		PaymentID:   o.PaymentID,
		PaymentURL:  o.PaymentURL,
		PayAddress:  o.PayAddress,
		PayAmount:   o.PayAmount,
		PayCurrency: o.PayCurrency,
		Network:     o.Network,
		TxHash:      o.TxHash,
		Note:        o.Note,
		CreatedAt:   formatTime(o.CreatedAt),
		ExpireAt:    formatTime(o.ExpireAt),
		FinishedAt:  formatTimePtr(o.FinishedAt),
	}
}

// mapApprovalToResponse exposes an approved run's tally as JSON; for rejected and failed
// approvals the stored text is the reason
func mapApprovalToResponse(a *approval.Approval) ApprovalResponse {
	resp := ApprovalResponse{
		ID:          a.ID,
		OpType:      string(a.OpType),
		Payload:     a.Payload,
		Status:      string(a.Status),
		SubmittedBy: a.SubmittedBy,
		ApprovedBy:  a.ApprovedBy,
		CreatedAt:   formatTime(a.CreatedAt),
		DecidedAt:   formatTimePtr(a.DecidedAt),
	}
	switch {
	case a.Result == "":
	case a.Status == approval.StatusApproved && json.Valid([]byte(a.Result)):
		resp.Result = json.RawMessage(a.Result)
	default:
		resp.Reason = a.Result
	}
	return resp
}
