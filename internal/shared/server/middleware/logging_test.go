package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"radar-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	restore := telemetry.SetLogger(zap.New(core))
	defer restore()

	router := gin.New()
	router.Use(RequestID(), Tenant(), Logging())
	router.POST("/api/v1/notes/:id/retry", func(c *gin.Context) {
		c.Set(NoteIDKey, c.Param("id"))
		c.Set(StatusTransitionKey, "failed->pending")
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notes/note-1/retry", nil)
	req.Header.Set(TenantHeader, "tenant-1")
	req.Header.Set("X-Request-Id", "req-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	entries := logs.FilterMessage("request.complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	payload := entries[0].ContextMap()
	for _, key := range []string{"request_id", "tenant_id", "note_id", "duration_ms", "status", "status_transition", "route"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["tenant_id"] != "tenant-1" || payload["note_id"] != "note-1" || payload["request_id"] != "req-1" {
		t.Fatalf("unexpected fields: %v", payload)
	}
	if payload["route"] != "/api/v1/notes/:id/retry" {
		t.Fatalf("unexpected route: %v", payload["route"])
	}
	if _, ok := payload["client_id"]; ok {
		t.Fatalf("unset keys should be omitted")
	}
}
