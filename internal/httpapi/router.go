package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/ai-creator/internal/common"
	"github.com/suPer8Hu/ai-creator/internal/config"
	"github.com/suPer8Hu/ai-creator/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-creator/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-creator/internal/jobs"
	"github.com/suPer8Hu/ai-creator/internal/metrics"
)

func NewRouter(h *handlers.Handler, cfg config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/api/models", h.Models)

	// trusted front-ends only
	api := r.Group("/api")
	api.Use(middleware.TrustedCaller(cfg.AppSecret, cfg.TrustedCallerSet()))
	api.GET("/me", h.Me)

	api.POST("/jobs", h.SubmitJob)
	api.GET("/jobs/:job_id", h.GetJob)
	api.GET("/users/:user_id/jobs", h.ListUserJobs)

	api.POST("/chat", h.SubmitKind(jobs.KindChat))
	for _, k := range []jobs.Kind{jobs.KindImage, jobs.KindVideo, jobs.KindMusic} {
		api.POST("/"+string(k)+"/submit", h.SubmitKind(k))
		api.GET("/"+string(k)+"/result/:job_id", h.GetKindResult(k))
	}
	return r
}
