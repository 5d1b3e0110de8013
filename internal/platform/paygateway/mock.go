package paygateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hongbao-ledger/internal/domain/recharge"
)

const MockName = "mock"

// MockProvider hands out deterministic invoice and payment ids for development.
// Payments stay "waiting" until SetStatus moves them.
type MockProvider struct {
	mu       sync.Mutex
	statuses map[string]string
	orders   map[string]*recharge.Order
}

var _ recharge.Provider = (*MockProvider)(nil)

func NewMockProvider() *MockProvider {
	return &MockProvider{
		statuses: make(map[string]string),
		orders:   make(map[string]*recharge.Order),
	}
}

func (m *MockProvider) Name() string { return MockName }

func (m *MockProvider) CreateInvoice(_ context.Context, o *recharge.Order) (*recharge.Invoice, error) {
	return &recharge.Invoice{
		ID:  fmt.Sprintf("INV-%d", o.ID),
		URL: fmt.Sprintf("https://example.com/pay?oid=%d&amt=%s&token=%s&p=%s", o.ID, o.Amount, o.Asset, MockName),
	}, nil
}

func (m *MockProvider) CreatePaymentByInvoice(ctx context.Context, o *recharge.Order, invoiceID string) (*recharge.Payment, error) {
	p, err := m.CreatePayment(ctx, o)
	if err != nil {
		return nil, err
	}
	p.InvoiceID = invoiceID
	return p, nil
}

func (m *MockProvider) CreatePayment(_ context.Context, o *recharge.Order) (*recharge.Payment, error) {
	id := fmt.Sprintf("PAY-%d", o.ID)
	m.mu.Lock()
	copied := *o
	m.orders[id] = &copied
	if _, ok := m.statuses[id]; !ok {
		m.statuses[id] = "waiting"
	}
	m.mu.Unlock()
	return m.payment(id, &copied), nil
}

func (m *MockProvider) GetPayment(_ context.Context, paymentID string) (*recharge.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[paymentID]
	if !ok {
		return nil, &APIError{Method: "GET", Path: "/payment/" + paymentID, StatusCode: 404, Body: "payment not found"}
	}
	return m.payment(paymentID, o), nil
}

// SetStatus changes what GetPayment reports for a payment id.
func (m *MockProvider) SetStatus(paymentID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[paymentID] = status
}

func (m *MockProvider) payment(id string, o *recharge.Order) *recharge.Payment {
	return &recharge.Payment{
		PaymentID:   id,
		Status:      m.statuses[id],
		PayAddress:  fmt.Sprintf("mock_addr_%d", o.ID),
		PayAmount:   o.Amount,
		PayCurrency: strings.ToLower(string(o.Asset)),
		Network:     "MOCK",
		PurchaseID:  fmt.Sprintf("MOCK-%d", o.ID),
		PaymentURL:  fmt.Sprintf("https://example.com/pay?oid=%d", o.ID),
	}
}
