package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/hongbao-ledger/internal/platform/messaging/producers"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("invalid signature")
)

// CallbackServiceImpl implements the CallbackService interface
type CallbackServiceImpl struct {
	verifier *ipn.Verifier
	producer producers.MessagePublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewCallbackService creates a new callback ingest service
func NewCallbackService(logger *slog.Logger, verifier *ipn.Verifier, producer producers.MessagePublisher) CallbackService {
	return &CallbackServiceImpl{
		verifier: verifier,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest rejects unsigned or tampered bodies before anything is parsed. Accepted
// callbacks are keyed by payment so the reconciler sees them in order.
func (s *CallbackServiceImpl) Ingest(ctx context.Context, provider string, body []byte, signature, correlationID string) (*shared.PaymentCallback, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}
	if len(body) == 0 {
		return nil, ipn.ErrEmptyBody
	}
	if _, err := ipn.Canonicalize(body); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %w", ipn.ErrInvalidNotification, err)
	}
	if !s.verifier.Verify(body, signature) {
		s.logger.Warn("Rejected provider callback with bad signature",
			"provider", provider,
			"correlation_id", correlationID,
		)
		return nil, ErrInvalidSignature
	}

	cb, err := ipn.ParseNotification(provider, body, correlationID, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.producer.Publish(ctx, cb.Key(), cb); err != nil {
		s.logger.Error("Failed to publish provider callback",
			"order_id", cb.OrderID,
			"payment_id", cb.PaymentID,
			"status", cb.Status,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Provider callback published",
		"order_id", cb.OrderID,
		"payment_id", cb.PaymentID,
		"status", cb.Status,
		"correlation_id", correlationID,
	)
	return cb, nil
}
