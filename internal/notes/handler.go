package notes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/analysis"
	"radar-backend/internal/shared/server/middleware"
	"radar-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the notes service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches note routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/notes/:id/retry", h.retry)
	rg.GET("/notes/:id/analysis", h.getAnalysis)
}

type analysisResponse struct {
	NoteID      string           `json:"noteId"`
	ClientID    string           `json:"clientId"`
	Status      Status           `json:"status"`
	Error       string           `json:"error,omitempty"`
	Attempt     int              `json:"attempt"`
	Analysis    *analysis.Result `json:"analysis"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

func (h *Handler) retry(c *gin.Context) {
	tenantID := middleware.TenantIDFromContext(c)
	noteID := c.Param("id")
	c.Set(middleware.NoteIDKey, noteID)

	job, err := h.Svc.Retrigger(c.Request.Context(), tenantID, noteID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "note not found")
		case errors.Is(err, ErrNotRetryable):
			respond.Error(c, http.StatusConflict, respond.CodeNotRetryable, "only failed notes can be retried")
		default:
			respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, "could not schedule analysis")
		}
		return
	}
	c.Set(middleware.StatusTransitionKey, "failed->pending")
	respond.Accepted(c, gin.H{
		"noteId": noteID,
		"status": StatusPending,
		"jobId":  job.ID,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	tenantID := middleware.TenantIDFromContext(c)
	noteID := c.Param("id")
	c.Set(middleware.NoteIDKey, noteID)

	note, err := h.Svc.Get(c.Request.Context(), tenantID, noteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "note not found")
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load note")
		return
	}
	respond.OK(c, analysisResponse{
		NoteID:      note.ID,
		ClientID:    note.ClientID,
		Status:      note.Status,
		Error:       note.Error,
		Attempt:     note.Attempt,
		Analysis:    note.Analysis,
		CompletedAt: note.CompletedAt,
	})
}
