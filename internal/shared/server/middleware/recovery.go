package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/shared/server/respond"
	"radar-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a logged 500 with the error envelope. Gin's own
// stack dump is discarded in favor of one structured log line.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		telemetry.Error("http.panic", map[string]any{
			"request_id": RequestIDFromContext(c),
			"tenant_id":  TenantIDFromContext(c),
			"route":      c.FullPath(),
			"method":     c.Request.Method,
			"panic":      rec,
			"stack":      string(debug.Stack()),
		})
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "unexpected server error")
	})
}
