package recharge

import (
	"time"

	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/shopspring/decimal"
)

// Order is one user's request to deposit value through a payment provider
type Order struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	Asset       asset.Asset `json:"asset"`
	Amount      string      `json:"amount"`
	Status      Status      `json:"status"`
	Provider    string      `json:"provider"`
	InvoiceID   string      `json:"invoice_id,omitempty"`
	PaymentID   string      `json:"payment_id,omitempty"`
	PaymentURL  string      `json:"payment_url,omitempty"`
	PayAddress  string      `json:"pay_address,omitempty"`
	PayAmount   string      `json:"pay_amount,omitempty"`
	PayCurrency string      `json:"pay_currency,omitempty"`
	Network     string      `json:"network,omitempty"`
	PurchaseID  string      `json:"purchase_id,omitempty"`
	TxHash      string      `json:"tx_hash,omitempty"`
	Note        string      `json:"note,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpireAt    time.Time   `json:"expire_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	RefreshedAt *time.Time  `json:"refreshed_at,omitempty"`
}

// NeedsProvider is false for assets credited without an on-chain leg
func (o *Order) NeedsProvider() bool {
	return o.Asset != asset.POINT
}

// HasPaymentFields reports whether the provider has already quoted an address and amount
func (o *Order) HasPaymentFields() bool {
	return o.PayAddress != "" && o.PayAmount != "" && o.PayCurrency != ""
}

// IsExpired reports whether a pending order is past its expiry time
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == StatusPending && !o.ExpireAt.IsZero() && now.After(o.ExpireAt)
}

// RefreshedWithin reports whether the provider was polled less than window ago
func (o *Order) RefreshedWithin(now time.Time, window time.Duration) bool {
	return o.RefreshedAt != nil && now.Sub(*o.RefreshedAt) < window
}

// CreditAmount parses the stored amount at the asset's precision
func (o *Order) CreditAmount() (decimal.Decimal, error) {
	return asset.ParseAmount(o.Asset, o.Amount)
}

// ProviderFields are the provider-assigned attributes written back onto an order.
// Empty strings leave the stored value untouched.
type ProviderFields struct {
	InvoiceID   string
	PaymentID   string
	PaymentURL  string
	PayAddress  string
	PayAmount   string
	PayCurrency string
	Network     string
	PurchaseID  string
	ExpireAt    *time.Time
}

// Apply copies the non-empty fields onto the order
func (f ProviderFields) Apply(o *Order) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&o.InvoiceID, f.InvoiceID)
	set(&o.PaymentID, f.PaymentID)
	set(&o.PaymentURL, f.PaymentURL)
	set(&o.PayAddress, f.PayAddress)
	set(&o.PayAmount, f.PayAmount)
	set(&o.PayCurrency, f.PayCurrency)
	set(&o.Network, f.Network)
	set(&o.PurchaseID, f.PurchaseID)
	if f.ExpireAt != nil {
		o.ExpireAt = *f.ExpireAt
	}
}
