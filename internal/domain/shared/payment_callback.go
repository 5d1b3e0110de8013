package shared

import (
	"errors"
	"strconv"
	"time"
)

var ErrMissingPaymentReference = errors.New("callback carries neither order id nor payment id")

// PaymentCallback is a verified provider notification handed from the gateway to the reconciler over Kafka
type PaymentCallback struct {
	Provider      string    `json:"provider"`
	OrderID       int64     `json:"order_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	InvoiceID     string    `json:"invoice_id,omitempty"`
	Status        string    `json:"status"`
	TxHash        string    `json:"tx_hash,omitempty"`
	PayAddress    string    `json:"pay_address,omitempty"`
	PayCurrency   string    `json:"pay_currency,omitempty"`
	ActuallyPaid  string    `json:"actually_paid,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Key is the Kafka partition key; callbacks for one payment stay ordered
func (c *PaymentCallback) Key() string {
	if c.PaymentID != "" {
		return c.PaymentID
	}
	return "order-" + strconv.FormatInt(c.OrderID, 10)
}

// Validate checks that the callback can be matched to an order
func (c *PaymentCallback) Validate() error {
	if c.OrderID <= 0 && c.PaymentID == "" {
		return ErrMissingPaymentReference
	}
	return nil
}
