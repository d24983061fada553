package radar

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/shared/server/middleware"
	"radar-backend/internal/shared/server/respond"
)

// Handler serves the radar read endpoints.
type Handler struct {
	Agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{Agg: agg}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/radar", h.radar)
	rg.GET("/radar/digest", h.digest)
}

func (h *Handler) radar(c *gin.Context) {
	d, err := h.Agg.Radar(c.Request.Context(), middleware.TenantIDFromContext(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load radar")
		return
	}
	respond.OK(c, d)
}

func (h *Handler) digest(c *gin.Context) {
	d, err := h.Agg.Digest(c.Request.Context(), middleware.TenantIDFromContext(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to build digest")
		return
	}
	respond.OK(c, d)
}
