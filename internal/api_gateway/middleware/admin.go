package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// AdminIDHeader carries the Telegram id of the operator making the call
	AdminIDHeader = "X-Admin-ID"

	// AdminIDKey is the key used to store the operator id in the context
	AdminIDKey = "admin_id"
)

// AdminAuth requires the shared admin bearer token and an operator id.
// An empty token disables the admin surface entirely.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid admin token")
			return
		}

		adminID, err := strconv.ParseInt(c.GetHeader(AdminIDHeader), 10, 64)
		if err != nil || adminID <= 0 {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", AdminIDHeader+" header must be a positive integer")
			return
		}

		c.Set(AdminIDKey, adminID)
		c.Next()
	}
}

// GetAdminID retrieves the authenticated operator id, or zero outside admin routes
func GetAdminID(c *gin.Context) int64 {
	return c.GetInt64(AdminIDKey)
}

func abort(c *gin.Context, status int, code, message string) {
	response := gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
	if correlationID := GetCorrelationID(c); correlationID != "" {
		response["correlation_id"] = correlationID
	}
	c.AbortWithStatusJSON(status, response)
}
