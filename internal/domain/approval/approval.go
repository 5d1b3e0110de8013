package approval

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OpType names a high-risk batch operation
type OpType string

const (
	OpAdjustBatch    OpType = "ADJUST_BATCH"
	OpResetSelected  OpType = "RESET_SELECTED"
	OpResetAll       OpType = "RESET_ALL"
	OpRechargeExpire OpType = "RECHARGE_EXPIRE"
)

// ParseOpType resolves an op type tag, ignoring case
func ParseOpType(s string) (OpType, error) {
	op := OpType(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpAdjustBatch, OpResetSelected, OpResetAll, OpRechargeExpire:
		return op, nil
	}
	return "", ErrUnknownOpType{OpType: s}
}

// Status is the lifecycle state of an approval
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
)

// Approval is a queued operation waiting for a second admin
type Approval struct {
	ID          int64           `json:"id"`
	OpType      OpType          `json:"op_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	SubmittedBy int64           `json:"submitted_by"`
	ApprovedBy  *int64          `json:"approved_by,omitempty"`
	Result      string          `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
}

// AdjustBatchPayload adds the same signed amount to each listed user
type AdjustBatchPayload struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
	Users  []int64         `json:"users"`
}

// ResetPayload zeroes the asset for the listed users, or for every holder when Users is empty under RESET_ALL
type ResetPayload struct {
	Asset string  `json:"asset"`
	Note  string  `json:"note,omitempty"`
	Users []int64 `json:"users,omitempty"`
}

// RechargeExpirePayload force-expires one pending recharge order
type RechargeExpirePayload struct {
	OrderID int64 `json:"order_id"`
}

// Failure records why one target of a batch was not applied
type Failure struct {
	UserID int64  `json:"user_id"`
	Error  string `json:"error"`
}

// Result is the tally stored on an approved batch
type Result struct {
	OK          int             `json:"ok"`
	Fail        int             `json:"fail"`
	Skipped     int             `json:"skipped"`
	Count       int             `json:"count"`
	TotalDeduct decimal.Decimal `json:"total_deduct"`
	Failures    []Failure       `json:"failures,omitempty"`
}

// Succeeded records one applied target
func (r *Result) Succeeded(delta decimal.Decimal) {
	r.OK++
	r.Count++
	if delta.IsNegative() {
		r.TotalDeduct = r.TotalDeduct.Add(delta.Neg())
	}
}

// Failed records one target that could not be applied
func (r *Result) Failed(userID int64, err error) {
	r.Fail++
	r.Count++
	r.Failures = append(r.Failures, Failure{UserID: userID, Error: err.Error()})
}

// Skip records a target that needed no change
func (r *Result) Skip() {
	r.Skipped++
	r.Count++
}
