package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hongbao-ledger/internal/domain/recharge"
	"github.com/hongbao-ledger/internal/domain/shared"
	"github.com/hongbao-ledger/internal/platform/messaging/producers"
	"github.com/hongbao-ledger/internal/reconciler/service"
)

// CallbackHandler handles verified payment callbacks read from Kafka
type CallbackHandler struct {
	callbacks service.CallbackService
	producer  producers.DeadLetterPublisher
	logger    *slog.Logger
}

func NewCallbackHandler(
	logger *slog.Logger,
	callbacks service.CallbackService,
	producer producers.DeadLetterPublisher,
) *CallbackHandler {
	return &CallbackHandler{
		callbacks: callbacks,
		producer:  producer,
		logger:    logger,
	}
}

// HandleMessage processes one Kafka message. A nil return commits the offset;
// an error makes the consumer retry the same message.
func (h *CallbackHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var callback shared.PaymentCallback
	if err := json.Unmarshal(value, &callback); err != nil {
		return h.deadLetter(ctx, key, value, "Failed to unmarshal payment callback", err)
	}

	logger := h.logger
	if callback.CorrelationID != "" {
		logger = h.logger.With("correlation_id", callback.CorrelationID)
	}

	logger.Info("Received payment callback",
		"order_id", callback.OrderID,
		"payment_id", callback.PaymentID,
		"status", callback.Status,
	)

	outcome, err := h.callbacks.Dispatch(ctx, &callback)
	if err != nil {
		// these can never succeed on redelivery
		if errors.Is(err, shared.ErrMissingPaymentReference) || errors.Is(err, recharge.ErrOrderNotFound{}) {
			return h.deadLetter(ctx, key, value, "Payment callback matches no order", err)
		}
		logger.Error("Failed to apply payment callback",
			"order_id", callback.OrderID,
			"payment_id", callback.PaymentID,
			"error", err,
		)
		return fmt.Errorf("applying callback %s failed: %w", callback.Key(), err)
	}

	logger.Info("Payment callback applied", "payment_id", callback.PaymentID, "outcome", string(outcome))
	return nil
}

func (h *CallbackHandler) deadLetter(ctx context.Context, key, value []byte, msg string, cause error) error {
	h.logger.Error(msg, "error", cause, "message_key", string(key))

	if h.producer == nil {
		// retrying cannot fix it and would stall the partition; the log keeps the payload
		h.logger.Error("No DLQ configured, dropping unprocessable message",
			"message_key", string(key),
			"message_value", string(value),
			"error", cause,
		)
		return nil
	}

	reason := fmt.Sprintf("%s: %s", msg, cause.Error())
	if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, reason); dlqErr != nil {
		h.logger.Error("Failed to publish message to DLQ",
			"dlq_error", dlqErr,
			"original_error", cause,
			"message_key", string(key),
		)
		return fmt.Errorf("%s: %w", msg, cause)
	}

	h.logger.Info("Published unprocessable message to DLQ", "message_key", string(key), "reason", reason)
	return nil
}
