// Package approvals implements the four-eyes queue for high-risk batch
// balance operations. A queued operation runs only when a second admin
// approves it.
package approvals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hongbao-ledger/internal/accounting"
	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	DefaultResetBatch = 200
	DefaultPerPage    = 20
	MaxPerPage        = 100

	maxReasonLength = 200
	defaultReason   = "rejected"
)

// Accounting is the part of the accounting facade batches are built from.
type Accounting interface {
	Adjust(ctx context.Context, adj accounting.Adjustment) (*accounting.Receipt, error)
	Balance(ctx context.Context, userID int64, a asset.Asset) (decimal.Decimal, error)
}

// OrderExpirer force-closes a recharge order.
type OrderExpirer interface {
	MarkExpired(ctx context.Context, id int64) (bool, error)
}

type Service struct {
	db         persistence.Transactor
	approvals  approval.Repository
	holders    balance.Repository
	accounting Accounting
	orders     OrderExpirer
	resetBatch int
	logger     *slog.Logger

	now func() time.Time
}

func NewService(
	logger *slog.Logger,
	db persistence.Transactor,
	approvals approval.Repository,
	holders balance.Repository,
	acct Accounting,
	orders OrderExpirer,
	resetBatch int,
) *Service {
	if resetBatch <= 0 {
		resetBatch = DefaultResetBatch
	}
	return &Service{
		db:         db,
		approvals:  approvals,
		holders:    holders,
		accounting: acct,
		orders:     orders,
		resetBatch: resetBatch,
		logger:     logger,
		now:        time.Now,
	}
}

// Page is one page of approvals plus the total matching the filter.
type Page struct {
	Items   []*approval.Approval `json:"items"`
	Total   int64                `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

// Enqueue validates and stores a PENDING approval. Nothing else happens until it is approved.
func (s *Service) Enqueue(ctx context.Context, opType string, payload json.RawMessage, submitter int64) (*approval.Approval, error) {
	op, err := approval.ParseOpType(opType)
	if err != nil {
		return nil, err
	}
	if submitter <= 0 {
		return nil, asset.ValidationError{Field: "submitted_by", Reason: "must be positive"}
	}
	if err := validatePayload(op, payload); err != nil {
		return nil, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", approval.ErrInvalidPayload, err)
	}

	a := &approval.Approval{
		OpType:      op,
		Payload:     json.RawMessage(compact.Bytes()),
		Status:      approval.StatusPending,
		SubmittedBy: submitter,
	}
	if err := s.approvals.Create(ctx, a); err != nil {
		s.logger.Error("Failed to store approval", "op_type", string(op), "error", err)
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	s.logger.Info("Approval queued", "approval_id", a.ID, "op_type", string(op), "submitted_by", submitter)
	return a, nil
}

// Approve claims the approval and then runs the queued operation. The claim
// commits before any balance moves, so a batch runs at most once even when
// the caller goes away or recording the outcome fails.
func (s *Service) Approve(ctx context.Context, id, approver int64) (*approval.Approval, error) {
	var claimed *approval.Approval
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.approvals.WithTx(tx)
		a, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != approval.StatusPending {
			return approval.ErrNotPending{ID: id, Status: a.Status}
		}
		if a.SubmittedBy == approver {
			return approval.ErrSameApprover
		}

		decidedAt := s.now().UTC()
		a.Status = approval.StatusApproved
		a.ApprovedBy = &approver
		a.DecidedAt = &decidedAt
		a.Result = ""
		if err := repo.Finalize(ctx, a); err != nil {
			return fmt.Errorf("failed to claim approval: %w", err)
		}
		claimed = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	// the batch is committed to running; a disconnected admin must not cut it short
	runCtx := context.WithoutCancel(ctx)

	result, dispatchErr := s.dispatch(runCtx, claimed, approver)
	if dispatchErr != nil {
		claimed.Status = approval.StatusFailed
		claimed.Result = dispatchErr.Error()
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode approval result: %w", err)
		}
		claimed.Result = string(raw)
	}

	if err := s.approvals.Complete(runCtx, claimed); err != nil {
		s.logger.Error("Approved operation ran but its outcome was not recorded",
			"approval_id", id,
			"op_type", string(claimed.OpType),
			"approved_by", approver,
			"outcome", claimed.Result,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record approval outcome: %w", err)
	}

	if dispatchErr != nil {
		s.logger.Error("Approved operation failed",
			"approval_id", id,
			"op_type", string(claimed.OpType),
			"approved_by", approver,
			"error", dispatchErr,
		)
		return claimed, dispatchErr
	}

	s.logger.Info("Approval executed",
		"approval_id", id,
		"op_type", string(claimed.OpType),
		"approved_by", approver,
		"result", claimed.Result,
	)
	return claimed, nil
}

// Reject closes a PENDING approval without running it. The submitter may reject their own request.
func (s *Service) Reject(ctx context.Context, id, approver int64, reason string) (*approval.Approval, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultReason
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		reason = string([]rune(reason)[:maxReasonLength])
	}

	var decided *approval.Approval
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.approvals.WithTx(tx)
		a, err := repo.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != approval.StatusPending {
			return approval.ErrNotPending{ID: id, Status: a.Status}
		}

		decidedAt := s.now().UTC()
		a.Status = approval.StatusRejected
		a.ApprovedBy = &approver
		a.DecidedAt = &decidedAt
		a.Result = reason
		if err := repo.Finalize(ctx, a); err != nil {
			return fmt.Errorf("failed to finalize approval: %w", err)
		}
		decided = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Approval rejected", "approval_id", id, "rejected_by", approver, "reason", reason)
	return decided, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*approval.Approval, error) {
	return s.approvals.GetByID(ctx, id)
}

// List pages through approvals newest first. An empty status lists all of them.
func (s *Service) List(ctx context.Context, status string, page, perPage int) (*Page, error) {
	var st approval.Status
	if status != "" {
		st = approval.Status(strings.ToUpper(strings.TrimSpace(status)))
		switch st {
		case approval.StatusPending, approval.StatusApproved, approval.StatusRejected, approval.StatusFailed:
		default:
			return nil, asset.ValidationError{Field: "status", Reason: "unknown approval status " + status}
		}
	}
	if page < 1 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}

	items, err := s.approvals.List(ctx, st, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	total, err := s.approvals.Count(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to count approvals: %w", err)
	}
	if items == nil {
		items = []*approval.Approval{}
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *Service) dispatch(ctx context.Context, a *approval.Approval, operator int64) (*approval.Result, error) {
	ref := &accounting.LedgerSpec{
		RefType:    ledger.RefApproval,
		RefID:      strconv.FormatInt(a.ID, 10),
		OperatorID: &operator,
	}

	switch a.OpType {
	case approval.OpAdjustBatch:
		var p approval.AdjustBatchPayload
		if err := decode(a.Payload, &p); err != nil {
			return nil, err
		}
		ast, err := asset.Parse(p.Asset)
		if err != nil {
			return nil, err
		}
		spec := *ref
		spec.Kind = ledger.KindAdjustment
		spec.Note = p.Note
		return s.adjustEach(ctx, uniqueUsers(p.Users), ast, p.Amount, &spec), nil

	case approval.OpResetSelected:
		var p approval.ResetPayload
		if err := decode(a.Payload, &p); err != nil {
			return nil, err
		}
		ast, err := asset.Parse(p.Asset)
		if err != nil {
			return nil, err
		}
		return s.resetUsers(ctx, uniqueUsers(p.Users), ast, resetSpec(ref, p.Note)), nil

	case approval.OpResetAll:
		var p approval.ResetPayload
		if err := decode(a.Payload, &p); err != nil {
			return nil, err
		}
		ast, err := asset.Parse(p.Asset)
		if err != nil {
			return nil, err
		}
		return s.resetAll(ctx, ast, resetSpec(ref, p.Note))

	case approval.OpRechargeExpire:
		var p approval.RechargeExpirePayload
		if err := decode(a.Payload, &p); err != nil {
			return nil, err
		}
		moved, err := s.orders.MarkExpired(ctx, p.OrderID)
		if err != nil {
			return nil, err
		}
		result := &approval.Result{TotalDeduct: decimal.Zero}
		if moved {
			result.Succeeded(decimal.Zero)
		} else {
			result.Skip()
		}
		return result, nil
	}

	return nil, approval.ErrUnknownOpType{OpType: string(a.OpType)}
}

func (s *Service) adjustEach(ctx context.Context, users []int64, a asset.Asset, amount decimal.Decimal, spec *accounting.LedgerSpec) *approval.Result {
	result := &approval.Result{TotalDeduct: decimal.Zero}
	for _, userID := range users {
		receipt, err := s.accounting.Adjust(ctx, accounting.Adjustment{UserID: userID, Asset: a, Delta: amount, Ledger: spec})
		if err != nil {
			s.logger.Warn("Batch adjustment failed for user", "user_id", userID, "asset", string(a), "error", err)
			result.Failed(userID, err)
			continue
		}
		delta := amount
		if receipt.Entry != nil {
			delta = receipt.Entry.Amount
		}
		result.Succeeded(delta)
	}
	return result
}

func (s *Service) resetUsers(ctx context.Context, users []int64, a asset.Asset, spec *accounting.LedgerSpec) *approval.Result {
	result := &approval.Result{TotalDeduct: decimal.Zero}
	for _, userID := range users {
		s.resetOne(ctx, result, userID, a, spec)
	}
	return result
}

func (s *Service) resetAll(ctx context.Context, a asset.Asset, spec *accounting.LedgerSpec) (*approval.Result, error) {
	result := &approval.Result{TotalDeduct: decimal.Zero}
	var after int64
	for {
		holders, err := s.holders.ListHolders(ctx, a, after, s.resetBatch)
		if err != nil {
			// a page failure before any reset has run is a dispatch failure
			if result.Count == 0 {
				return nil, fmt.Errorf("failed to list %s holders: %w", a, err)
			}
			s.logger.Error("Reset-all stopped early", "asset", string(a), "after_user_id", after, "error", err)
			return result, nil
		}
		for _, h := range holders {
			s.resetOne(ctx, result, h.UserID, a, spec)
			after = h.UserID
		}
		if len(holders) < s.resetBatch {
			return result, nil
		}
	}
}

func (s *Service) resetOne(ctx context.Context, result *approval.Result, userID int64, a asset.Asset, spec *accounting.LedgerSpec) {
	current, err := s.accounting.Balance(ctx, userID, a)
	if err != nil {
		result.Failed(userID, err)
		return
	}
	if current.IsZero() {
		result.Skip()
		return
	}
	if _, err := s.accounting.Adjust(ctx, accounting.Adjustment{UserID: userID, Asset: a, Delta: current.Neg(), Ledger: spec}); err != nil {
		s.logger.Warn("Reset failed for user", "user_id", userID, "asset", string(a), "error", err)
		result.Failed(userID, err)
		return
	}
	result.Succeeded(current.Neg())
}

func resetSpec(ref *accounting.LedgerSpec, note string) *accounting.LedgerSpec {
	spec := *ref
	spec.Kind = ledger.KindReset
	spec.Note = note
	return &spec
}

func uniqueUsers(users []int64) []int64 {
	seen := make(map[int64]struct{}, len(users))
	out := make([]int64, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", approval.ErrInvalidPayload, err)
	}
	return nil
}

func validatePayload(op approval.OpType, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return fmt.Errorf("%w: payload must be a JSON object", approval.ErrInvalidPayload)
	}

	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", approval.ErrInvalidPayload, fmt.Sprintf(format, args...))
	}
	checkUsers := func(users []int64, required bool) error {
		if required && len(users) == 0 {
			return invalid("users must not be empty")
		}
		for _, u := range users {
			if u <= 0 {
				return invalid("user id %d is not valid", u)
			}
		}
		return nil
	}

	switch op {
	case approval.OpAdjustBatch:
		var p approval.AdjustBatchPayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		a, err := asset.Parse(p.Asset)
		if err != nil {
			return err
		}
		q, err := a.Quantize(p.Amount)
		if err != nil {
			return err
		}
		if q.IsZero() {
			return invalid("amount must not be zero")
		}
		return checkUsers(p.Users, true)

	case approval.OpResetSelected, approval.OpResetAll:
		var p approval.ResetPayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		if _, err := asset.Parse(p.Asset); err != nil {
			return err
		}
		return checkUsers(p.Users, op == approval.OpResetSelected)

	case approval.OpRechargeExpire:
		var p approval.RechargeExpirePayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		if p.OrderID <= 0 {
			return invalid("order_id must be positive")
		}
		return nil
	}
	return approval.ErrUnknownOpType{OpType: string(op)}
}
