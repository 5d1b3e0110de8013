package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/api_gateway/service"
	"github.com/hongbao-ledger/internal/domain/asset"
	"github.com/hongbao-ledger/internal/domain/ledger"
)

// LedgerHandler handles ledger history, sums and the audit mirror
type LedgerHandler struct {
	ledgerService service.LedgerService
	auditService  service.AuditService
	logger        *slog.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(logger *slog.Logger, ledgerService service.LedgerService, auditService service.AuditService) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
		auditService:  auditService,
		logger:        logger,
	}
}

// Recent returns the newest entries first. before_id and before_ts resume
// after the last entry of the previous page and must be sent together.
func (h *LedgerHandler) Recent(c *gin.Context) {
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

	var cursor *ledger.Cursor
	beforeID, beforeTS := c.Query("before_id"), c.Query("before_ts")
	if beforeID != "" || beforeTS != "" {
		id, ok := int64Param(beforeID)
		if !ok {
			RespondBadRequest(c, "before_id must be a positive integer")
			return
		}
		ts, err := time.Parse(time.RFC3339Nano, beforeTS)
		if err != nil {
			RespondBadRequest(c, "before_ts must be an RFC3339 timestamp")
			return
		}
		cursor = &ledger.Cursor{CreatedAt: ts, ID: id}
	}

	page, err := h.ledgerService.Recent(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		respondError(c, h.logger, err, "Failed to read ledger")
		return
	}

	resp := LedgerPageResponse{Entries: mapEntriesToResponse(page.Entries)}
	if page.Next != nil {
		resp.NextBeforeID = page.Next.ID
		resp.NextBeforeTS = formatTime(page.Next.CreatedAt)
	}
	RespondOK(c, resp)
}

// Sum adds up entries for ?asset=, optionally restricted to a comma-separated
// ?kinds= list and the [from, to) range
func (h *LedgerHandler) Sum(c *gin.Context) {
	userID, ok := int64Param(c.Param("user_id"))
	if !ok {
		RespondBadRequest(c, "Invalid user ID")
		return
	}

	filter := ledger.SumFilter{UserID: userID, Asset: asset.Asset(c.Query("asset"))}
	var kinds []string
	for _, k := range strings.Split(c.Query("kinds"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			filter.Kinds = append(filter.Kinds, ledger.Kind(k))
			kinds = append(kinds, k)
		}
	}

	var err error
	if filter.From, err = parseOptionalTime(c.Query("from")); err != nil {
		RespondBadRequest(c, "from must be an RFC3339 timestamp")
		return
	}
	if filter.To, err = parseOptionalTime(c.Query("to")); err != nil {
		RespondBadRequest(c, "to must be an RFC3339 timestamp")
		return
	}

	total, err := h.ledgerService.Sum(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to sum ledger")
		return
	}

	canonical, _ := asset.Parse(string(filter.Asset))
	RespondOK(c, LedgerSumResponse{
		UserID: userID,
		Asset:  string(canonical),
		Kinds:  kinds,
		From:   formatTime(filter.From),
		To:     formatTime(filter.To),
		Total:  total.String(),
	})
}

// Audit pages through the mirrored entries in the document store
func (h *LedgerHandler) Audit(c *gin.Context) {
	userID, ok := int64Param(c.Param("user_id"))
	if !ok {
		RespondBadRequest(c, "Invalid user ID")
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.auditService.ListByUser(c.Request.Context(), userID, pagination.Page, pagination.PerPage)
	if err != nil {
		h.logger.Error("Failed to get audit entries", "user_id", userID, "error", err)
		RespondInternalError(c)
		return
	}

	RespondWithPaginatedData(c, http.StatusOK, mapEntriesToResponse(entries), pagination.Page, pagination.PerPage, int(total))
}

func parseOptionalTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
