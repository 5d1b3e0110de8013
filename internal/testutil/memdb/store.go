// Package memdb is an in-memory stand-in for the Postgres repositories used by
// service tests. ExecuteTx serializes units of work and restores a snapshot when
// the unit fails, which mirrors commit/rollback closely enough to test the
// balance, order and approval invariants without a database.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hongbao-ledger/internal/domain/approval"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/balance"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/hongbao-ledger/internal/domain/outbox"
	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/jackc/pgx/v5"
)

type balanceKey struct {
	userID int64
	asset  asset.Asset
}

type orderRow struct {
	order          recharge.Order
	provisioningAt *time.Time
}

type dedupRow struct {
	orderID  int64
	provider string
}

type state struct {
	balances  map[balanceKey]balance.Balance
	entries   []ledger.Entry
	outbox    []outbox.Message
	orders    map[int64]orderRow
	dedup     map[string]dedupRow
	approvals map[int64]approval.Approval
	seq       int64
}

func (s *state) clone() state {
	c := state{
		balances:  make(map[balanceKey]balance.Balance, len(s.balances)),
		entries:   append([]ledger.Entry(nil), s.entries...),
		outbox:    append([]outbox.Message(nil), s.outbox...),
		orders:    make(map[int64]orderRow, len(s.orders)),
		dedup:     make(map[string]dedupRow, len(s.dedup)),
		approvals: make(map[int64]approval.Approval, len(s.approvals)),
		seq:       s.seq,
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.dedup {
		c.dedup[k] = v
	}
	for k, v := range s.approvals {
		c.approvals[k] = v
	}
	return c
}

// Store holds every table. The zero value is not usable; call New.
type Store struct {
	txMu sync.Mutex // one unit of work at a time
	mu   sync.Mutex // guards st
	st   state

	// Now is the clock used for timestamps the database would fill in.
	Now func() time.Time

	// updateFaults holds errors returned by the next balance updates, in order.
	updateFaults []error
}

func New() *Store {
	return &Store{
		st: state{
			balances:  make(map[balanceKey]balance.Balance),
			orders:    make(map[int64]orderRow),
			dedup:     make(map[string]dedupRow),
			approvals: make(map[int64]approval.Approval),
		},
		Now: time.Now,
	}
}

// ExecuteTx runs fn exclusively and rolls every table back if it fails or panics.
func (s *Store) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(nil)
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
}

// FailNextBalanceUpdates queues errors for the next balance writes.
func (s *Store) FailNextBalanceUpdates(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateFaults = append(s.updateFaults, errs...)
}

func (s *Store) nextID() int64 {
	s.st.seq++
	return s.st.seq
}

// SetBalance seeds a balance row directly.
func (s *Store) SetBalance(userID int64, a asset.Asset, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := balance.Zero(userID, a)
	b.Amount = mustDecimal(amount)
	b.UpdatedAt = s.Now()
	s.st.balances[balanceKey{userID, a}] = *b
}

// Entries returns a copy of the ledger in insertion order.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Entry(nil), s.st.entries...)
}

// OutboxMessages returns a copy of the outbox in insertion order.
func (s *Store) OutboxMessages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.st.outbox...)
}

// DedupCount is the number of recorded provider payment ids.
func (s *Store) DedupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.dedup)
}

// Order returns a copy of the stored order.
func (s *Store) Order(id int64) (recharge.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.orders[id]
	return row.order, ok
}

// PutOrder inserts or replaces an order row as-is.
func (s *Store) PutOrder(o recharge.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.nextID()
	} else if o.ID > s.st.seq {
		s.st.seq = o.ID
	}
	s.st.orders[o.ID] = orderRow{order: o}
}

// Repositories bundles the fakes so tests can wire services in one line.
type Repositories struct {
	Balances  *BalanceRepository
	Ledger    *LedgerRepository
	Outbox    *OutboxRepository
	Orders    *OrderRepository
	Dedup     *DedupRepository
	Approvals *ApprovalRepository
}

func (s *Store) Repositories() Repositories {
	return Repositories{
		Balances:  &BalanceRepository{s: s},
		Ledger:    &LedgerRepository{s: s},
		Outbox:    &OutboxRepository{s: s},
		Orders:    &OrderRepository{s: s},
		Dedup:     &DedupRepository{s: s},
		Approvals: &ApprovalRepository{s: s},
	}
}

func sortEntriesDesc(entries []ledger.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
