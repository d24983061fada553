package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/shared/server/respond"
)

const (
	TenantHeader = "X-Tenant-Id"
	tenantIDKey  = "tenantId"
	maxTenantLen = 128
)

// Tenant requires a tenant identifier on every request and stores it in context.
// Identity is established upstream; this layer only scopes data access.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		tenantID := strings.TrimSpace(c.GetHeader(TenantHeader))
		if tenantID == "" || len(tenantID) > maxTenantLen {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "missing tenant")
			return
		}
		c.Set(tenantIDKey, tenantID)
		c.Next()
	}
}

// TenantIDFromContext fetches the tenant ID set by the Tenant middleware.
func TenantIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(tenantIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
