package service

import (
	"context"
	"encoding/json"

	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/approvals"
	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/orders"
	"github.com/shopspring/decimal"
)

// AccountingService defines balance reads and single adjustments
type AccountingService interface {
	// Adjust applies a signed delta; returns balance.ErrInsufficientBalance when the result would be negative
	Adjust(ctx context.Context, adj accounting.Adjustment) (*accounting.Receipt, error)

	// Balance returns zero for a user who never held the asset
	Balance(ctx context.Context, userID int64, a asset.Asset) (decimal.Decimal, error)

	CanSpend(ctx context.Context, userID int64, a asset.Asset, amount decimal.Decimal) (bool, error)
}

// LedgerService defines reads over the authoritative ledger
type LedgerService interface {
	Recent(ctx context.Context, userID int64, limit int, before *ledger.Cursor) (*accounting.Page, error)
	Sum(ctx context.Context, filter ledger.SumFilter) (decimal.Decimal, error)
}

// AuditService defines paginated reads over the audit mirror
type AuditService interface {
	// ListByUser returns entries, total count of the user's entries, and any error
	ListByUser(ctx context.Context, userID int64, page, perPage int) ([]*ledger.Entry, int64, error)
}

// OrderService defines the recharge order operations exposed over HTTP
type OrderService interface {
	Create(ctx context.Context, userID int64, token, amount string) (*recharge.Order, error)
	Get(ctx context.Context, id int64) (*recharge.Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*recharge.Order, error)

	// EnsurePayment returns orders.ErrProviderUnavailable when the provider cannot quote; the order stays PENDING
	EnsurePayment(ctx context.Context, id int64) (*recharge.Order, error)
	RefreshStatusIfNeeded(ctx context.Context, id int64) (*recharge.Order, error)
	MarkExpired(ctx context.Context, id int64) (bool, error)
}

// CallbackService accepts provider notifications and queues them for the reconciler
type CallbackService interface {
	// Ingest verifies the signature, parses the body and publishes the callback
	Ingest(ctx context.Context, provider string, body []byte, signature, correlationID string) (*shared.PaymentCallback, error)
}

// ApprovalService defines the four-eyes queue
type ApprovalService interface {
	Enqueue(ctx context.Context, opType string, payload json.RawMessage, submitter int64) (*approval.Approval, error)
	Approve(ctx context.Context, id, approver int64) (*approval.Approval, error)
	Reject(ctx context.Context, id, approver int64, reason string) (*approval.Approval, error)
	Get(ctx context.Context, id int64) (*approval.Approval, error)
	List(ctx context.Context, status string, page, perPage int) (*approvals.Page, error)
}

var (
	_ AccountingService = (*accounting.Service)(nil)
	_ LedgerService     = (*accounting.LedgerQuery)(nil)
	_ OrderService      = (*orders.Service)(nil)
	_ ApprovalService   = (*approvals.Service)(nil)
)
