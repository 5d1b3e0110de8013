package balance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository defines balance persistence operations
type Repository interface {
	// Get reads without locking; returns ErrBalanceNotFound when the row does not exist
	Get(ctx context.Context, userID int64, a asset.Asset) (*Balance, error)

	// LockForUpdate creates the row at zero if missing and holds a row lock until the transaction ends
	LockForUpdate(ctx context.Context, userID int64, a asset.Asset) (*Balance, error)
	Update(ctx context.Context, b *Balance) error

	// ListHolders pages through users with a nonzero balance of the asset, ordered by user id
	ListHolders(ctx context.Context, a asset.Asset, afterUserID int64, limit int) ([]*Balance, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrConcurrentModification indicates the storage layer aborted a conflicting transaction
var ErrConcurrentModification = errors.New("concurrent modification detected")

// ErrBalanceNotFound indicates the user never held the asset
type ErrBalanceNotFound struct {
	UserID int64
	Asset  asset.Asset
}

func (e ErrBalanceNotFound) Error() string {
	return "balance not found: user " + strconv.FormatInt(e.UserID, 10) + " asset " + string(e.Asset)
}

// Is implements the errors.Is interface for ErrBalanceNotFound
func (e ErrBalanceNotFound) Is(target error) bool {
	_, ok := target.(ErrBalanceNotFound)
	return ok
}

// ErrInsufficientBalance indicates a mutation would drive the balance negative
type ErrInsufficientBalance struct {
	UserID  int64
	Asset   asset.Asset
	Balance decimal.Decimal
	Delta   decimal.Decimal
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient %s balance for user %d: have %s, delta %s", e.Asset, e.UserID, e.Balance, e.Delta)
}

// Is matches any ErrInsufficientBalance
func (e ErrInsufficientBalance) Is(target error) bool {
	_, ok := target.(ErrInsufficientBalance)
	return ok
}
