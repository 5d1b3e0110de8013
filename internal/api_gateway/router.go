package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hongbao-ledger/internal/api_gateway/handler"
	"github.com/hongbao-ledger/internal/api_gateway/middleware"
)

// handlers groups everything the router mounts
type handlers struct {
	accounting *handler.AccountingHandler
	ledger     *handler.LedgerHandler
	orders     *handler.OrderHandler
	ipn        *handler.IPNHandler
	approvals  *handler.ApprovalHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, h handlers, adminToken string) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))

	admin := middleware.AdminAuth(adminToken)

	v1 := r.Group("/api/v1")
	{
		// Provider notifications, authenticated by signature
		ipn := v1.Group("/ipn")
		{
			ipn.POST("/nowpayments", h.ipn.NowPayments)
			ipn.GET("/health", h.ipn.Health)
		}

		users := v1.Group("/users/:user_id")
		{
			users.GET("/balances/:asset", h.accounting.GetBalance)
			users.GET("/balances/:asset/can-spend", h.accounting.CanSpend)
			users.POST("/adjustments", admin, h.accounting.Adjust)
			users.GET("/ledger", h.ledger.Recent)
			users.GET("/ledger/sum", h.ledger.Sum)
			users.GET("/ledger/audit", h.ledger.Audit)
			users.GET("/orders", h.orders.ListByUser)
		}

		orders := v1.Group("/orders")
		{
			orders.POST("", h.orders.Create)
			orders.GET("/:id", h.orders.GetByID)
			orders.POST("/:id/payment", h.orders.EnsurePayment)
			orders.POST("/:id/refresh", h.orders.Refresh)
			orders.POST("/:id/expire", admin, h.orders.Expire)
		}

		approvals := v1.Group("/approvals", admin)
		{
			approvals.POST("", h.approvals.Enqueue)
			approvals.GET("", h.approvals.List)
			approvals.GET("/:id", h.approvals.GetByID)
			approvals.POST("/:id/approve", h.approvals.Approve)
			approvals.POST("/:id/reject", h.approvals.Reject)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
