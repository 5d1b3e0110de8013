package accounting

import (
	"context"
	"fmt"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 200
)

// LedgerQuery is the read side of the ledger.
type LedgerQuery struct {
	entries ledger.Repository
}

func NewLedgerQuery(entries ledger.Repository) *LedgerQuery {
	return &LedgerQuery{entries: entries}
}

// Page is one slice of a user's ledger, newest first. Next is nil on the last page.
type Page struct {
	Entries []*ledger.Entry `json:"entries"`
	Next    *ledger.Cursor  `json:"-"`
}

// ClampLimit keeps page sizes within [1, MaxRecentLimit]; zero means the default.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultRecentLimit
	case limit < 1:
		return 1
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	}
	return limit
}

// Recent returns up to limit entries older than before (or the newest when before is nil).
func (q *LedgerQuery) Recent(ctx context.Context, userID int64, limit int, before *ledger.Cursor) (*Page, error) {
	if userID <= 0 {
		return nil, asset.ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	limit = ClampLimit(limit)

	entries, err := q.entries.Recent(ctx, userID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent ledger entries: %w", err)
	}

	page := &Page{Entries: entries}
	if len(entries) == limit {
		page.Next = ledger.CursorOf(entries[len(entries)-1])
	}
	return page, nil
}

// Sum adds up the user's entries for one asset. Requested kinds match their
// legacy spellings as well; the range is [From, To).
func (q *LedgerQuery) Sum(ctx context.Context, filter ledger.SumFilter) (decimal.Decimal, error) {
	if filter.UserID <= 0 {
		return decimal.Zero, asset.ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	a, err := asset.Parse(string(filter.Asset))
	if err != nil {
		return decimal.Zero, err
	}
	filter.Asset = a
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return decimal.Zero, asset.ValidationError{Field: "to", Reason: "must be after from"}
	}

	total, err := q.entries.Sum(ctx, filter)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return total, nil
}
