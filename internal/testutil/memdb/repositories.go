package memdb

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/outbox"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// BalanceRepository implements balance.Repository.
type BalanceRepository struct{ s *Store }

var _ balance.Repository = (*BalanceRepository)(nil)

func (r *BalanceRepository) WithTx(pgx.Tx) balance.Repository { return r }

func (r *BalanceRepository) Get(_ context.Context, userID int64, a asset.Asset) (*balance.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.st.balances[balanceKey{userID, a}]
	if !ok {
		return nil, balance.ErrBalanceNotFound{UserID: userID, Asset: a}
	}
	return &b, nil
}

func (r *BalanceRepository) LockForUpdate(_ context.Context, userID int64, a asset.Asset) (*balance.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := balanceKey{userID, a}
	b, ok := r.s.st.balances[key]
	if !ok {
		z := balance.Zero(userID, a)
		z.UpdatedAt = r.s.Now()
		b = *z
		r.s.st.balances[key] = b
	}
	return &b, nil
}

func (r *BalanceRepository) Update(_ context.Context, b *balance.Balance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.updateFaults) > 0 {
		err := r.s.updateFaults[0]
		r.s.updateFaults = r.s.updateFaults[1:]
		if err != nil {
			return err
		}
	}
	key := balanceKey{b.UserID, b.Asset}
	cur, ok := r.s.st.balances[key]
	if !ok || cur.Version != b.Version-1 {
		return balance.ErrConcurrentModification
	}
	if b.Amount.IsNegative() {
		return balance.ErrInsufficientBalance{UserID: b.UserID, Asset: b.Asset, Balance: cur.Amount}
	}
	r.s.st.balances[key] = *b
	return nil
}

func (r *BalanceRepository) ListHolders(_ context.Context, a asset.Asset, afterUserID int64, limit int) ([]*balance.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*balance.Balance
	for k, b := range r.s.st.balances {
		if k.asset == a && k.userID > afterUserID && !b.Amount.IsZero() {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LedgerRepository implements ledger.Repository.
type LedgerRepository struct{ s *Store }

var _ ledger.Repository = (*LedgerRepository)(nil)

func (r *LedgerRepository) WithTx(pgx.Tx) ledger.Repository { return r }

func (r *LedgerRepository) Append(_ context.Context, e *ledger.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = r.s.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.s.Now()
	}
	r.s.st.entries = append(r.s.st.entries, *e)
	return nil
}

func (r *LedgerRepository) GetByID(_ context.Context, id int64) (*ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, ledger.ErrEntryNotFound{ID: id}
}

func (r *LedgerRepository) Recent(_ context.Context, userID int64, limit int, before *ledger.Cursor) ([]*ledger.Entry, error) {
	r.s.mu.Lock()
	var mine []ledger.Entry
	for _, e := range r.s.st.entries {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	r.s.mu.Unlock()

	sortEntriesDesc(mine)
	var out []*ledger.Entry
	for _, e := range mine {
		if before != nil {
			older := e.CreatedAt.Before(before.CreatedAt) ||
				(e.CreatedAt.Equal(before.CreatedAt) && e.ID < before.ID)
			if !older {
				continue
			}
		}
		e := e
		out = append(out, &e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *LedgerRepository) Sum(_ context.Context, f ledger.SumFilter) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kinds := ledger.ExpandKinds(f.Kinds)
	total := decimal.Zero
	for _, e := range r.s.st.entries {
		if e.UserID != f.UserID || e.Asset != f.Asset {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, string(e.Kind)) {
			continue
		}
		if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}

// InsertRaw stores an entry without normalizing its kind, like a legacy row.
func (r *LedgerRepository) InsertRaw(e ledger.Entry) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = r.s.nextID()
	r.s.st.entries = append(r.s.st.entries, e)
}

// OutboxRepository implements outbox.Repository.
type OutboxRepository struct{ s *Store }

var _ outbox.Repository = (*OutboxRepository)(nil)

func (r *OutboxRepository) WithTx(pgx.Tx) outbox.Repository { return r }

func (r *OutboxRepository) Create(_ context.Context, m *outbox.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = r.s.nextID()
	r.s.st.outbox = append(r.s.st.outbox, *m)
	return nil
}

func (r *OutboxRepository) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*outbox.Message
	for _, m := range r.s.st.outbox {
		if m.Status == shared.OutboxStatusPending {
			m := m
			out = append(out, &m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *OutboxRepository) find(id int64) int {
	for i, m := range r.s.st.outbox {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (r *OutboxRepository) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i := r.find(id)
	if i < 0 {
		return outbox.ErrMessageNotFound{ID: id}
	}
	r.s.st.outbox[i].Status = status
	return nil
}

func (r *OutboxRepository) IncrementAttempts(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i := r.find(id)
	if i < 0 {
		return outbox.ErrMessageNotFound{ID: id}
	}
	r.s.st.outbox[i].IncrementAttempts()
	return nil
}

func (r *OutboxRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i := r.find(id)
	if i < 0 {
		return outbox.ErrMessageNotFound{ID: id}
	}
	r.s.st.outbox = append(r.s.st.outbox[:i], r.s.st.outbox[i+1:]...)
	return nil
}

func (r *OutboxRepository) GetByEntryID(_ context.Context, entryID int64) (*outbox.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.st.outbox {
		if m.EntryID == entryID {
			return &m, nil
		}
	}
	return nil, outbox.ErrMessageNotFound{}
}

// OrderRepository implements recharge.Repository.
type OrderRepository struct{ s *Store }

var _ recharge.Repository = (*OrderRepository)(nil)

func (r *OrderRepository) WithTx(pgx.Tx) recharge.Repository { return r }

func (r *OrderRepository) Create(_ context.Context, o *recharge.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.ID = r.s.nextID()
	now := r.s.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	r.s.st.orders[o.ID] = orderRow{order: *o}
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id int64) (*recharge.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.st.orders[id]
	if !ok {
		return nil, recharge.ErrOrderNotFound{ID: id}
	}
	return &row.order, nil
}

func (r *OrderRepository) GetByPaymentID(_ context.Context, paymentID string) (*recharge.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range r.s.st.orders {
		if row.order.PaymentID == paymentID {
			return &row.order, nil
		}
	}
	return nil, recharge.ErrOrderNotFound{PaymentID: paymentID}
}

func (r *OrderRepository) LockForUpdate(ctx context.Context, id int64) (*recharge.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) ListByUser(_ context.Context, userID int64, limit int) ([]*recharge.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*recharge.Order
	for _, row := range r.s.st.orders {
		if row.order.UserID == userID {
			o := row.order
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) SaveProviderFields(_ context.Context, id int64, f recharge.ProviderFields) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.st.orders[id]
	if !ok {
		return recharge.ErrOrderNotFound{ID: id}
	}
	f.Apply(&row.order)
	row.order.UpdatedAt = r.s.Now()
	r.s.st.orders[id] = row
	return nil
}

func (r *OrderRepository) ClaimProvisioning(_ context.Context, id int64, lease time.Duration) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.st.orders[id]
	if !ok || row.order.Status != recharge.StatusPending {
		return false, nil
	}
	now := r.s.Now()
	if row.provisioningAt != nil && !row.provisioningAt.Before(now.Add(-lease)) {
		return false, nil
	}
	row.provisioningAt = &now
	r.s.st.orders[id] = row
	return true, nil
}

func (r *OrderRepository) ReleaseProvisioning(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.st.orders[id]; ok {
		row.provisioningAt = nil
		r.s.st.orders[id] = row
	}
	return nil
}

func (r *OrderRepository) Transition(_ context.Context, id int64, to recharge.Status, txHash, note string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.st.orders[id]
	if !ok || row.order.Status != recharge.StatusPending {
		return false, nil
	}
	now := r.s.Now()
	row.order.Status = to
	if txHash != "" {
		row.order.TxHash = txHash
	}
	if note != "" {
		row.order.Note = note
	}
	row.order.FinishedAt = &now
	row.order.UpdatedAt = now
	r.s.st.orders[id] = row
	return true, nil
}

func (r *OrderRepository) TouchRefreshed(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if row, ok := r.s.st.orders[id]; ok {
		now := r.s.Now()
		row.order.RefreshedAt = &now
		r.s.st.orders[id] = row
	}
	return nil
}

func (r *OrderRepository) ExpireOverdue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for id, row := range r.s.st.orders {
		if row.order.Status == recharge.StatusPending && row.order.ExpireAt.Before(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		row := r.s.st.orders[id]
		row.order.Status = recharge.StatusExpired
		row.order.FinishedAt = &now
		r.s.st.orders[id] = row
	}
	return ids, nil
}

func (r *OrderRepository) ListStalePending(_ context.Context, refreshedBefore time.Time, limit int) ([]*recharge.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*recharge.Order
	for _, row := range r.s.st.orders {
		o := row.order
		if o.Status != recharge.StatusPending || o.PaymentID == "" {
			continue
		}
		if o.RefreshedAt != nil && !o.RefreshedAt.Before(refreshedBefore) {
			continue
		}
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DedupRepository implements recharge.DedupRepository.
type DedupRepository struct{ s *Store }

var _ recharge.DedupRepository = (*DedupRepository)(nil)

func (r *DedupRepository) WithTx(pgx.Tx) recharge.DedupRepository { return r }

func (r *DedupRepository) Record(_ context.Context, paymentID string, orderID int64, provider string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.dedup[paymentID]; ok {
		return false, nil
	}
	r.s.st.dedup[paymentID] = dedupRow{orderID: orderID, provider: provider}
	return true, nil
}

func (r *DedupRepository) Exists(_ context.Context, paymentID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.st.dedup[paymentID]
	return ok, nil
}

// ApprovalRepository implements approval.Repository.
type ApprovalRepository struct{ s *Store }

var _ approval.Repository = (*ApprovalRepository)(nil)

func (r *ApprovalRepository) WithTx(pgx.Tx) approval.Repository { return r }

func (r *ApprovalRepository) Create(_ context.Context, a *approval.Approval) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.ID = r.s.nextID()
	a.CreatedAt = r.s.Now()
	r.s.st.approvals[a.ID] = *a
	return nil
}

func (r *ApprovalRepository) GetByID(_ context.Context, id int64) (*approval.Approval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.approvals[id]
	if !ok {
		return nil, approval.ErrApprovalNotFound{ID: id}
	}
	return &a, nil
}

func (r *ApprovalRepository) LockForUpdate(ctx context.Context, id int64) (*approval.Approval, error) {
	return r.GetByID(ctx, id)
}

func (r *ApprovalRepository) Finalize(ctx context.Context, a *approval.Approval) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.approvals[a.ID]
	if !ok || cur.Status != approval.StatusPending {
		return approval.ErrNotPending{ID: a.ID, Status: cur.Status}
	}
	r.s.st.approvals[a.ID] = *a
	return nil
}

func (r *ApprovalRepository) Complete(ctx context.Context, a *approval.Approval) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.approvals[a.ID]
	if !ok || cur.Status != approval.StatusApproved || cur.Result != "" {
		return fmt.Errorf("%w: %d", approval.ErrNotAwaitingOutcome, a.ID)
	}
	cur.Status = a.Status
	cur.Result = a.Result
	r.s.st.approvals[a.ID] = cur
	return nil
}

func (r *ApprovalRepository) filtered(status approval.Status) []approval.Approval {
	var out []approval.Approval
	for _, a := range r.s.st.approvals {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *ApprovalRepository) List(_ context.Context, status approval.Status, limit, offset int) ([]*approval.Approval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := r.filtered(status)
	var out []*approval.Approval
	for i := offset; i < len(all) && len(out) < limit; i++ {
		a := all[i]
		out = append(out, &a)
	}
	return out, nil
}

func (r *ApprovalRepository) Count(_ context.Context, status approval.Status) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(status))), nil
}
