// Package paygateway holds the outbound payment provider clients used to
// obtain deposit addresses and poll payment status for recharge orders.
package paygateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hongbao-ledger/internal/config"
	"github.com/hongbao-ledger/internal/domain/recharge"
)

const (
	NowPaymentsName = "nowpayments"

	hostedPaymentURL = "https://nowpayments.io/payment/"
	maxErrorBody     = 512
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nowpayments %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// flexString accepts JSON strings, numbers and null; the provider is not
// consistent about which one it sends for ids and amounts.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type invoiceRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayCurrency      string      `json:"pay_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
	IPNCallbackURL   string      `json:"ipn_callback_url,omitempty"`
	SuccessURL       string      `json:"success_url,omitempty"`
	CancelURL        string      `json:"cancel_url,omitempty"`
	IsFixedRate      bool        `json:"is_fixed_rate"`
}

type invoiceResponse struct {
	ID         flexString `json:"id"`
	IID        flexString `json:"iid"`
	InvoiceURL string     `json:"invoice_url"`
	URL        string     `json:"url"`
	PayAddress string     `json:"pay_address"`
	PayAmount  flexString `json:"pay_amount"`
}

type paymentRequest struct {
	IID              string      `json:"iid,omitempty"`
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayCurrency      string      `json:"pay_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
	IPNCallbackURL   string      `json:"ipn_callback_url,omitempty"`
	IsFixedRate      bool        `json:"is_fixed_rate"`
}

type paymentResponse struct {
	PaymentID              flexString `json:"payment_id"`
	InvoiceID              flexString `json:"invoice_id"`
	PaymentStatus          string     `json:"payment_status"`
	PayAddress             string     `json:"pay_address"`
	PayAmount              flexString `json:"pay_amount"`
	PayCurrency            string     `json:"pay_currency"`
	Network                string     `json:"network"`
	PurchaseID             flexString `json:"purchase_id"`
	PayinHash              string     `json:"payin_hash"`
	ValidUntil             string     `json:"valid_until"`
	ExpirationEstimateDate string     `json:"expiration_estimate_date"`
}

// NowPaymentsClient implements recharge.Provider against the NOWPayments REST API.
type NowPaymentsClient struct {
	httpClient *http.Client
	cfg        config.NowPaymentsConfig
	logger     *slog.Logger
}

var _ recharge.Provider = (*NowPaymentsClient)(nil)

func NewNowPaymentsClient(logger *slog.Logger, cfg *config.NowPaymentsConfig) *NowPaymentsClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := *cfg
	c.Timeout = timeout
	c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &NowPaymentsClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        c,
		logger:     logger,
	}
}

func (c *NowPaymentsClient) Name() string { return NowPaymentsName }

func (c *NowPaymentsClient) CreateInvoice(ctx context.Context, o *recharge.Order) (*recharge.Invoice, error) {
	req := invoiceRequest{
		PriceAmount:      json.Number(o.Amount),
		PriceCurrency:    c.priceCurrency(),
		PayCurrency:      c.payCurrency(o),
		OrderID:          strconv.FormatInt(o.ID, 10),
		OrderDescription: describe(o),
		IPNCallbackURL:   c.cfg.IPNCallback,
		SuccessURL:       withOrderID(c.cfg.SuccessURL, o.ID),
		CancelURL:        withOrderID(c.cfg.CancelURL, o.ID),
		IsFixedRate:      true,
	}

	var resp invoiceResponse
	if err := c.do(ctx, http.MethodPost, "/invoice", req, &resp); err != nil {
		return nil, err
	}

	id := string(resp.ID)
	if id == "" {
		id = string(resp.IID)
	}
	if id == "" {
		return nil, errors.New("nowpayments invoice response carries no id")
	}
	invoiceURL := resp.InvoiceURL
	if invoiceURL == "" {
		invoiceURL = resp.URL
	}

	c.logger.Info("NOWPayments invoice created", "order_id", o.ID, "invoice_id", id)
	return &recharge.Invoice{
		ID:         id,
		URL:        invoiceURL,
		PayAddress: resp.PayAddress,
		PayAmount:  string(resp.PayAmount),
	}, nil
}

func (c *NowPaymentsClient) CreatePaymentByInvoice(ctx context.Context, o *recharge.Order, invoiceID string) (*recharge.Payment, error) {
	req := paymentRequest{
		IID:              invoiceID,
		PriceAmount:      json.Number(o.Amount),
		PriceCurrency:    c.priceCurrency(),
		PayCurrency:      c.payCurrency(o),
		OrderID:          strconv.FormatInt(o.ID, 10),
		OrderDescription: describe(o),
		IsFixedRate:      true,
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/payment", req, &resp); err != nil {
		return nil, err
	}

	p := c.toPayment(o, &resp)
	if p.InvoiceID == "" {
		p.InvoiceID = invoiceID
	}
	p.PaymentURL = hostedPaymentURL + "?iid=" + url.QueryEscape(invoiceID)
	c.logger.Info("NOWPayments payment created by invoice", "order_id", o.ID, "payment_id", p.PaymentID)
	return p, nil
}

func (c *NowPaymentsClient) CreatePayment(ctx context.Context, o *recharge.Order) (*recharge.Payment, error) {
	req := paymentRequest{
		PriceAmount:      json.Number(o.Amount),
		PriceCurrency:    c.priceCurrency(),
		PayCurrency:      c.payCurrency(o),
		OrderID:          strconv.FormatInt(o.ID, 10),
		OrderDescription: describe(o),
		IPNCallbackURL:   c.cfg.IPNCallback,
		IsFixedRate:      true,
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "/payment", req, &resp); err != nil {
		return nil, err
	}

	p := c.toPayment(o, &resp)
	if p.PaymentID != "" {
		p.PaymentURL = hostedPaymentURL + "?paymentId=" + url.QueryEscape(p.PaymentID)
	}
	c.logger.Info("NOWPayments direct payment created", "order_id", o.ID, "payment_id", p.PaymentID)
	return p, nil
}

func (c *NowPaymentsClient) GetPayment(ctx context.Context, paymentID string) (*recharge.Payment, error) {
	if paymentID == "" {
		return nil, errors.New("payment id is required")
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return nil, err
	}

	p := c.toPayment(nil, &resp)
	if p.PaymentID == "" {
		p.PaymentID = paymentID
	}
	return p, nil
}

func (c *NowPaymentsClient) toPayment(o *recharge.Order, r *paymentResponse) *recharge.Payment {
	payCurrency := r.PayCurrency
	if payCurrency == "" && o != nil {
		payCurrency = c.payCurrency(o)
	}
	p := &recharge.Payment{
		PaymentID:   string(r.PaymentID),
		InvoiceID:   string(r.InvoiceID),
		Status:      strings.ToLower(r.PaymentStatus),
		PayAddress:  r.PayAddress,
		PayAmount:   string(r.PayAmount),
		PayCurrency: payCurrency,
		Network:     InferNetwork(payCurrency, r.Network),
		PurchaseID:  string(r.PurchaseID),
		TxHash:      r.PayinHash,
	}
	validUntil := r.ValidUntil
	if validUntil == "" {
		validUntil = r.ExpirationEstimateDate
	}
	if t, ok := parseProviderTime(validUntil); ok {
		p.ValidUntil = &t
	}
	return p
}

func (c *NowPaymentsClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode nowpayments request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build nowpayments request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nowpayments %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read nowpayments response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(raw)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		c.logger.Error("NOWPayments call failed", "method", method, "path", path, "status", resp.StatusCode)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: text}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode nowpayments response: %w", err)
	}
	return nil
}

func (c *NowPaymentsClient) priceCurrency() string {
	if c.cfg.PriceCurrency == "" {
		return "usd"
	}
	return strings.ToLower(c.cfg.PriceCurrency)
}

func (c *NowPaymentsClient) payCurrency(o *recharge.Order) string {
	return PayCurrency(o.Asset, c.cfg.PayCoinUSDT, c.cfg.PayCoinTON)
}

func describe(o *recharge.Order) string {
	return "Recharge for user " + strconv.FormatInt(o.UserID, 10)
}

func withOrderID(base string, orderID int64) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "oid=" + strconv.FormatInt(orderID, 10)
}

func parseProviderTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
