package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"radar-backend/internal/health"
	"radar-backend/internal/notes"
	"radar-backend/internal/radar"
	"radar-backend/internal/services/readiness"
	"radar-backend/internal/shared/config"
	"radar-backend/internal/shared/metrics"
	"radar-backend/internal/shared/server/middleware"
	"radar-backend/internal/shared/server/respond"
)

// RouterDeps are the handlers mounted under /api/v1. Nil handlers are skipped.
type RouterDeps struct {
	Config        config.Config
	Readiness     *readiness.Service
	NotesHandler  *notes.Handler
	HealthHandler *health.Handler
	RadarHandler  *radar.Handler
	RateLimiter   *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Readiness == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		st := deps.Readiness.Status(c.Request.Context())
		code := http.StatusOK
		if !st.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, st)
	})

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(map[string]middleware.RateLimitRule{
			middleware.ClassWrite: {Rate: deps.Config.WriteRate, Burst: deps.Config.WriteBurst},
		}, nil)
	}
	tenant := api.Group("", middleware.Tenant(), limiter.Middleware(middleware.ClassifyWrites))
	if deps.NotesHandler != nil {
		deps.NotesHandler.RegisterRoutes(tenant)
	}
	if deps.HealthHandler != nil {
		deps.HealthHandler.RegisterRoutes(tenant)
	}
	if deps.RadarHandler != nil {
		deps.RadarHandler.RegisterRoutes(tenant)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
