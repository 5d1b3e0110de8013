package approval

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// Repository defines approval persistence operations
type Repository interface {
	Create(ctx context.Context, a *Approval) error
	GetByID(ctx context.Context, id int64) (*Approval, error)
	LockForUpdate(ctx context.Context, id int64) (*Approval, error)

	// Finalize moves a PENDING approval to its decided state
	Finalize(ctx context.Context, a *Approval) error

	// Complete stores the outcome of an approval Finalize claimed as APPROVED
	Complete(ctx context.Context, a *Approval) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Approval, error)
	Count(ctx context.Context, status Status) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

var (
	ErrSameApprover       = errors.New("approver must differ from submitter")
	ErrInvalidPayload     = errors.New("invalid approval payload")
	ErrNotAwaitingOutcome = errors.New("approval is not awaiting an outcome")
)

// ErrUnknownOpType indicates an op type outside the supported set
type ErrUnknownOpType struct {
	OpType string
}

func (e ErrUnknownOpType) Error() string {
	return "unknown approval op type: " + e.OpType
}

// Is implements the errors.Is interface for ErrUnknownOpType
func (e ErrUnknownOpType) Is(target error) bool {
	_, ok := target.(ErrUnknownOpType)
	return ok
}

// ErrApprovalNotFound indicates missing approval
type ErrApprovalNotFound struct {
	ID int64
}

func (e ErrApprovalNotFound) Error() string {
	return "approval not found: " + strconv.FormatInt(e.ID, 10)
}

// Is implements the errors.Is interface for ErrApprovalNotFound
func (e ErrApprovalNotFound) Is(target error) bool {
	_, ok := target.(ErrApprovalNotFound)
	return ok
}

// ErrNotPending indicates the approval was already decided
type ErrNotPending struct {
	ID     int64
	Status Status
}

func (e ErrNotPending) Error() string {
	return "approval " + strconv.FormatInt(e.ID, 10) + " is " + string(e.Status) + ", not PENDING"
}

// Is implements the errors.Is interface for ErrNotPending
func (e ErrNotPending) Is(target error) bool {
	_, ok := target.(ErrNotPending)
	return ok
}
