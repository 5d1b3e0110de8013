package balance

import (
	"time"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/shopspring/decimal"
)

// Balance is the current holding of one asset by one user
type Balance struct {
	UserID    int64           `json:"user_id"`
	Asset     asset.Asset     `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Zero returns an unpersisted empty balance
func Zero(userID int64, a asset.Asset) *Balance {
	return &Balance{UserID: userID, Asset: a, Amount: decimal.Zero}
}

// Apply adds an already quantized delta, refusing to go below zero.
// The receiver is left untouched on failure.
func (b *Balance) Apply(delta decimal.Decimal) error {
	current, err := b.Asset.Quantize(b.Amount)
	if err != nil {
		return err
	}
	next := current.Add(delta)
	if next.IsNegative() {
		return ErrInsufficientBalance{
			UserID:  b.UserID,
			Asset:   b.Asset,
			Balance: current,
			Delta:   delta,
		}
	}
	b.Amount = next
	b.Version++
	b.UpdatedAt = time.Now()
	return nil
}

// CanSpend reports whether amount can be taken without going negative
func (b *Balance) CanSpend(amount decimal.Decimal) bool {
	return !b.Amount.Sub(amount).IsNegative()
}
