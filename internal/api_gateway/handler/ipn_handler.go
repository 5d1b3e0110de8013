package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/api_gateway/middleware"
	"github.com/hongbao-ledger/internal/api_gateway/service"
	"github.com/hongbao-ledger/internal/ipn"
	"github.com/hongbao-ledger/internal/platform/paygateway"
)

const (
	// SignatureHeader carries the hex HMAC-SHA512 of the canonical body
	SignatureHeader = "X-Nowpayments-Sig"

	maxNotificationBytes = 1 << 20
)

// IPNHandler receives provider payment notifications
type IPNHandler struct {
	callbackService service.CallbackService
	logger          *slog.Logger
}

// NewIPNHandler creates a new IPN handler
func NewIPNHandler(logger *slog.Logger, callbackService service.CallbackService) *IPNHandler {
	return &IPNHandler{
		callbackService: callbackService,
		logger:          logger,
	}
}

// NowPayments verifies and queues one notification. The reply body is what the
// provider expects; everything after the queue is the reconciler's job.
func (h *IPNHandler) NowPayments(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		var err error
		if body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes)); err != nil {
			RespondBadRequest(c, "Unreadable body")
			return
		}
	}
	correlationID := middleware.GetCorrelationID(c)

	cb, err := h.callbackService.Ingest(c.Request.Context(), paygateway.NowPaymentsName, body, c.GetHeader(SignatureHeader), correlationID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			RespondForbidden(c, "Invalid signature")
		case errors.Is(err, service.ErrMissingSignature):
			RespondBadRequest(c, "Missing "+SignatureHeader+" header")
		case errors.Is(err, ipn.ErrEmptyBody):
			RespondBadRequest(c, "Empty body")
		case errors.Is(err, ipn.ErrInvalidNotification):
			RespondBadRequest(c, err.Error())
		default:
			h.logger.Error("Failed to queue provider callback", "correlation_id", correlationID, "error", err)
			RespondInternalError(c)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"order_id":       cb.OrderID,
		"payment_id":     cb.PaymentID,
		"status":         cb.Status,
		"correlation_id": correlationID,
	})
}

// Health is polled by the provider dashboard and load balancers
func (h *IPNHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "timestamp": time.Now().UTC()})
}
