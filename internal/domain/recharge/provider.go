package recharge

import (
	"context"
	"time"
)

// Invoice is a hosted checkout created by the provider
type Invoice struct {
	ID         string
	URL        string
	PayAddress string
	PayAmount  string
}

// Payment is a provider payment object with a deposit address
type Payment struct {
	PaymentID   string
	InvoiceID   string
	Status      string
	PayAddress  string
	PayAmount   string
	PayCurrency string
	Network     string
	PurchaseID  string
	PaymentURL  string
	TxHash      string
	ValidUntil  *time.Time
}

// Fields converts the payment into a write-back set
func (p *Payment) Fields() ProviderFields {
	return ProviderFields{
		InvoiceID:   p.InvoiceID,
		PaymentID:   p.PaymentID,
		PaymentURL:  p.PaymentURL,
		PayAddress:  p.PayAddress,
		PayAmount:   p.PayAmount,
		PayCurrency: p.PayCurrency,
		Network:     p.Network,
		PurchaseID:  p.PurchaseID,
		ExpireAt:    p.ValidUntil,
	}
}

// Provider is the outbound payment gateway. Every call must honour ctx deadlines.
type Provider interface {
	Name() string
	CreateInvoice(ctx context.Context, order *Order) (*Invoice, error)
	CreatePaymentByInvoice(ctx context.Context, order *Order, invoiceID string) (*Payment, error)
	CreatePayment(ctx context.Context, order *Order) (*Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}
