package ipn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hongbao-ledger/internal/domain/shared"
)

var (
	ErrEmptyBody           = errors.New("empty notification body")
	ErrInvalidNotification = errors.New("invalid notification")
)

// ParseNotification turns a verified NOWPayments IPN body into a callback message.
func ParseNotification(provider string, body []byte, correlationID string, receivedAt time.Time) (*shared.PaymentCallback, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %w", ErrInvalidNotification, err)
	}

	cb := &shared.PaymentCallback{
		Provider:      provider,
		PaymentID:     field(fields, "payment_id"),
		InvoiceID:     field(fields, "invoice_id"),
		Status:        strings.ToLower(field(fields, "payment_status")),
		TxHash:        field(fields, "payin_hash", "tx_hash", "txid"),
		PayAddress:    field(fields, "pay_address"),
		PayCurrency:   field(fields, "pay_currency"),
		ActuallyPaid:  field(fields, "actually_paid"),
		CorrelationID: correlationID,
		ReceivedAt:    receivedAt.UTC(),
	}

	// order ids that are not ours are ignored; the payment id still resolves the order
	if raw := field(fields, "order_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			cb.OrderID = id
		}
	}

	if cb.Status == "" {
		return nil, fmt.Errorf("%w: no payment_status", ErrInvalidNotification)
	}
	if err := cb.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	return cb, nil
}

// field returns the first present key as text; numbers keep their JSON spelling.
func field(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}
