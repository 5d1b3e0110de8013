package recharge

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository defines recharge order persistence operations
type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	LockForUpdate(ctx context.Context, id int64) (*Order, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*Order, error)

	SaveProviderFields(ctx context.Context, id int64, fields ProviderFields) error

	// ClaimProvisioning takes a lease so only one worker talks to the provider for a pending order
	ClaimProvisioning(ctx context.Context, id int64, lease time.Duration) (bool, error)
	ReleaseProvisioning(ctx context.Context, id int64) error

	// Transition moves a PENDING order to a terminal status; false when the order was not PENDING
	Transition(ctx context.Context, id int64, to Status, txHash, note string) (bool, error)
	TouchRefreshed(ctx context.Context, id int64) error

	ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListStalePending(ctx context.Context, refreshedBefore time.Time, limit int) ([]*Order, error)
	WithTx(tx pgx.Tx) Repository
}

// DedupRepository is the durable set of provider payment ids already credited
type DedupRepository interface {
	// Record returns false when the payment id was already present
	Record(ctx context.Context, paymentID string, orderID int64, provider string) (bool, error)
	Exists(ctx context.Context, paymentID string) (bool, error)
	WithTx(tx pgx.Tx) DedupRepository
}

// ErrOrderNotFound indicates missing recharge order
type ErrOrderNotFound struct {
	ID        int64
	PaymentID string
}

func (e ErrOrderNotFound) Error() string {
	if e.PaymentID != "" {
		return "recharge order not found for payment: " + e.PaymentID
	}
	return "recharge order not found: " + strconv.FormatInt(e.ID, 10)
}

// Is implements the errors.Is interface for ErrOrderNotFound
func (e ErrOrderNotFound) Is(target error) bool {
	_, ok := target.(ErrOrderNotFound)
	return ok
}

// ErrOrderFinalized indicates an order already reached a different terminal state
type ErrOrderFinalized struct {
	ID     int64
	Status Status
}

func (e ErrOrderFinalized) Error() string {
	return "recharge order " + strconv.FormatInt(e.ID, 10) + " already " + string(e.Status)
}

// Is implements the errors.Is interface for ErrOrderFinalized
func (e ErrOrderFinalized) Is(target error) bool {
	_, ok := target.(ErrOrderFinalized)
	return ok
}

// ErrUnsupportedAsset indicates the asset cannot be recharged
var ErrUnsupportedAsset = errors.New("asset cannot be recharged")
