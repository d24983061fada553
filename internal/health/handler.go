package health

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/shared/server/middleware"
	"radar-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the health service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches client health routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/clients/:id/health", h.get)
	rg.POST("/clients/:id/health/recalculate", h.recalculate)
}

func (h *Handler) get(c *gin.Context) {
	tenantID := middleware.TenantIDFromContext(c)
	clientID := c.Param("id")
	c.Set(middleware.ClientIDKey, clientID)

	current, err := h.Svc.Store.GetClientHealth(c.Request.Context(), tenantID, clientID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, current)
}

func (h *Handler) recalculate(c *gin.Context) {
	tenantID := middleware.TenantIDFromContext(c)
	clientID := c.Param("id")
	c.Set(middleware.ClientIDKey, clientID)

	trigger := TriggerActionItem
	if c.Query("trigger") == TriggerManual {
		trigger = TriggerManual
	}
	updated, err := h.Svc.Recalculate(c.Request.Context(), tenantID, clientID, trigger)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, updated)
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrClientNotFound) {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "client not found")
		return
	}
	respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, "client health is temporarily unavailable")
}
