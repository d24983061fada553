// Package respond writes the API's JSON bodies and error envelope.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/shared/telemetry"
)

// Code is the machine-readable error code in the envelope.
type Code string

const (
	CodeInvalid      Code = "invalid_request"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeNotRetryable Code = "not_retryable"
	CodeRateLimited  Code = "rate_limited"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"
)

// Envelope is the body of every error response.
type Envelope struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JSON writes payload with status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func OK(c *gin.Context, payload any) { JSON(c, http.StatusOK, payload) }

func Accepted(c *gin.Context, payload any) { JSON(c, http.StatusAccepted, payload) }

// Error aborts the request with the error envelope. Server errors log at error
// level, client errors at warn.
func Error(c *gin.Context, status int, code Code, message string) {
	fields := map[string]any{
		"status":     status,
		"code":       string(code),
		"path":       c.FullPath(),
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if tenantID := c.GetString("tenantId"); tenantID != "" {
		fields["tenant_id"] = tenantID
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	var body Envelope
	body.Error.Code = code
	body.Error.Message = message
	c.AbortWithStatusJSON(status, body)
}
