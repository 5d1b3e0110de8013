package handler

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/api_gateway/service"
)

// OrderHandler handles recharge order requests
type OrderHandler struct {
	orderService service.OrderService
	logger       *slog.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(logger *slog.Logger, orderService service.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

// Create opens a PENDING order. Payment details are requested separately.
func (h *OrderHandler) Create(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	order, err := h.orderService.Create(c.Request.Context(), req.UserID, req.Token, req.Amount)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create order")
		return
	}

	RespondCreated(c, mapOrderToResponse(order))
}

func (h *OrderHandler) GetByID(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid order ID")
		return
	}

	order, err := h.orderService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get order")
		return
	}

	RespondOK(c, mapOrderToResponse(order))
}

// EnsurePayment asks the provider for an address and amount if the order has none yet
func (h *OrderHandler) EnsurePayment(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid order ID")
		return
	}

	order, err := h.orderService.EnsurePayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to provision payment")
		return
	}

	RespondOK(c, mapOrderToResponse(order))
}

// Refresh polls the provider for a PENDING order, at most once per refresh window
func (h *OrderHandler) Refresh(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid order ID")
		return
	}

	order, err := h.orderService.RefreshStatusIfNeeded(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to refresh order")
		return
	}

	RespondOK(c, mapOrderToResponse(order))
}

// Expire force-expires a PENDING order; terminal orders are returned unchanged
func (h *OrderHandler) Expire(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid order ID")
		return
	}

	expired, err := h.orderService.MarkExpired(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to expire order")
		return
	}
	order, err := h.orderService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get order")
		return
	}

	RespondOK(c, ExpireOrderResponse{Order: mapOrderToResponse(order), Expired: expired})
}

// ListByUser returns the user's newest orders, ?limit= capped by the service
func (h *OrderHandler) ListByUser(c *gin.Context) {
	userID, ok := int64Param(c.Param("user_id"))
	if !ok {
		RespondBadRequest(c, "Invalid user ID")
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			RespondBadRequest(c, "Invalid limit")
			return
		}
		limit = n
	}

	list, err := h.orderService.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list orders")
		return
	}

	resp := make([]OrderResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, mapOrderToResponse(o))
	}
	RespondOK(c, resp)
}
