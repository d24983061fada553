package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestTenantRequiresHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Tenant())
	router.GET("/api/v1/radar", func(c *gin.Context) {
		c.String(http.StatusOK, TenantIDFromContext(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/radar", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/radar", nil)
	req.Header.Set(TenantHeader, strings.Repeat("x", maxTenantLen+1))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for oversized tenant, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/radar", nil)
	req.Header.Set(TenantHeader, " tenant-1 ")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Body.String() != "tenant-1" {
		t.Fatalf("expected tenant-1, got %d %q", resp.Code, resp.Body.String())
	}
}

func TestTenantAllowsOptionsWithoutHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Tenant())
	router.OPTIONS("/api/v1/radar", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/radar", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}
