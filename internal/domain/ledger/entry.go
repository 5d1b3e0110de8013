package ledger

import (
	"time"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/shopspring/decimal"
)

// Entry is one append-only movement on a user's balance
type Entry struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Kind       Kind            `json:"kind"`
	Asset      asset.Asset     `json:"asset"`
	Amount     decimal.Decimal `json:"amount"` // signed, quantized
	RefType    RefType         `json:"ref_type,omitempty"`
	RefID      string          `json:"ref_id,omitempty"`
	Note       string          `json:"note,omitempty"`
	OperatorID *int64          `json:"operator_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Cursor marks the position after which the next page of entries starts
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// CursorOf returns the cursor pointing past e
func CursorOf(e *Entry) *Cursor {
	return &Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

// SumFilter selects entries for aggregation. Zero times leave that bound open; To is exclusive.
type SumFilter struct {
	UserID int64
	Asset  asset.Asset
	Kinds  []Kind
	From   time.Time
	To     time.Time
}
