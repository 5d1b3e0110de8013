package ledger

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository manages ledger entry persistence with keyset pagination
type Repository interface {
	// Append stores the entry and fills ID and CreatedAt
	Append(ctx context.Context, entry *Entry) error
	GetByID(ctx context.Context, id int64) (*Entry, error)
	Recent(ctx context.Context, userID int64, limit int, before *Cursor) ([]*Entry, error)
	Sum(ctx context.Context, filter SumFilter) (decimal.Decimal, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrEntryNotFound indicates missing ledger entry
type ErrEntryNotFound struct {
	ID int64
}

func (e ErrEntryNotFound) Error() string {
	return "ledger entry not found: " + strconv.FormatInt(e.ID, 10)
}

// Is implements the errors.Is interface for ErrEntryNotFound
func (e ErrEntryNotFound) Is(target error) bool {
	t, ok := target.(ErrEntryNotFound)
	if !ok {
		return false
	}
	// A zero ID matches any ErrEntryNotFound
	if t.ID == 0 {
		return true
	}
	return e.ID == t.ID
}
