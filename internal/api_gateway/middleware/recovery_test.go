package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("panic in an admin route becomes a 500", func(t *testing.T) {
		var logBuffer bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelError}))

		router := gin.New()
		router.Use(Recovery(logger), CorrelationID())
		admin := router.Group("/api/v1/approvals", AdminAuth("admin-token"))
		admin.POST("/:id/approve", func(c *gin.Context) {
			var missing map[string]int
			missing["batch"]++
		})

		req, _ := http.NewRequest(http.MethodPost, "/api/v1/approvals/7/approve", nil)
		req.Header.Set("Authorization", "Bearer admin-token")
		req.Header.Set(AdminIDHeader, "9001")
		req.Header.Set(CorrelationIDHeader, "approve-7")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)

		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			CorrelationID string `json:"correlation_id"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Error.Code)
		assert.Equal(t, "approve-7", body.CorrelationID)

		logOutput := logBuffer.String()
		assert.Contains(t, logOutput, `"msg":"Panic recovered"`)
		assert.Contains(t, logOutput, "assignment to entry in nil map")
		assert.Contains(t, logOutput, `"path":"/api/v1/approvals/7/approve"`)
		assert.Contains(t, logOutput, `"admin_id":9001`)
		assert.Contains(t, logOutput, `"stack":`)
	})

	t.Run("no panic leaves the response alone", func(t *testing.T) {
		var logBuffer bytes.Buffer
		router := gin.New()
		router.Use(Recovery(slog.New(slog.NewJSONHandler(&logBuffer, nil))))
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})

		req, _ := http.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
		assert.Empty(t, logBuffer.String())
	})
}
