package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/api_gateway/middleware"
	"github.com/hongbao-ledger/internal/api_gateway/service"
)

// ApprovalHandler handles the four-eyes queue. The acting admin comes from AdminAuth.
type ApprovalHandler struct {
	approvalService service.ApprovalService
	logger          *slog.Logger
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(logger *slog.Logger, approvalService service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
		logger:          logger,
	}
}

// Enqueue queues an operation for a second admin
func (h *ApprovalHandler) Enqueue(c *gin.Context) {
	var req EnqueueApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	a, err := h.approvalService.Enqueue(c.Request.Context(), req.OpType, req.Payload, middleware.GetAdminID(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to enqueue approval")
		return
	}

	RespondCreated(c, mapApprovalToResponse(a))
}

// List pages through approvals, optionally filtered by ?status=
func (h *ApprovalHandler) List(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	page, err := h.approvalService.List(c.Request.Context(), c.Query("status"), pagination.Page, pagination.PerPage)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list approvals")
		return
	}

	items := make([]ApprovalResponse, 0, len(page.Items))
	for _, a := range page.Items {
		items = append(items, mapApprovalToResponse(a))
	}
	RespondWithPaginatedData(c, http.StatusOK, items, page.Page, page.PerPage, int(page.Total))
}

func (h *ApprovalHandler) GetByID(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid approval ID")
		return
	}

	a, err := h.approvalService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get approval")
		return
	}

	RespondOK(c, mapApprovalToResponse(a))
}

// Approve runs the queued operation. A run that fails is still recorded as
// FAILED and returned with the failure as its reason.
func (h *ApprovalHandler) Approve(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid approval ID")
		return
	}

	a, err := h.approvalService.Approve(c.Request.Context(), id, middleware.GetAdminID(c))
	if err != nil {
		if a == nil {
			respondError(c, h.logger, err, "Failed to approve")
			return
		}
		h.logger.Warn("Approved operation failed", "approval_id", id, "error", err)
	}

	RespondOK(c, mapApprovalToResponse(a))
}

// Reject closes a pending approval without running it
func (h *ApprovalHandler) Reject(c *gin.Context) {
	id, ok := int64Param(c.Param("id"))
	if !ok {
		RespondBadRequest(c, "Invalid approval ID")
		return
	}

	var req RejectApprovalRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	a, err := h.approvalService.Reject(c.Request.Context(), id, middleware.GetAdminID(c), req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "Failed to reject")
		return
	}

	RespondOK(c, mapApprovalToResponse(a))
}
